// Command fizitctl runs engine operations from the shell against the
// configured ledger.
package main

import (
	"fmt"
	"os"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
)

var Version = "dev"

func main() {
	rootCmd := newRootCmd(service.NewAppContext)
	rootCmd.Version = Version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
