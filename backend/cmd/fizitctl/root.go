package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/david-nichamoff/fizit-demo-sub001/backend/config"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/model"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/pkg/logger"
	"github.com/david-nichamoff/fizit-demo-sub001/backend/service"
	"github.com/spf13/cobra"
)

type engineFactory func(ctx context.Context, cfg *config.Config) (*service.AppContext, error)

type cli struct {
	configPath string
	newEngine  engineFactory
}

func newRootCmd(newEngine engineFactory) *cobra.Command {
	c := &cli{newEngine: newEngine}

	rootCmd := &cobra.Command{
		Use:   "fizitctl",
		Short: "Operate the settlement engine from the shell",
		Long: `fizitctl reads and settles contract obligations directly against the
configured ledger and bank rails, without going through the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.configPath, "config", "c", config.Path(), "Path to config.yaml")

	rootCmd.AddCommand(c.checkCmd())
	rootCmd.AddCommand(c.validateCmd())
	rootCmd.AddCommand(c.settlementsCmd())
	rootCmd.AddCommand(c.pendingCmd())
	rootCmd.AddCommand(c.settleCmd())
	return rootCmd
}

// engine loads config and builds an AppContext. The caller closes it.
func (c *cli) engine(ctx context.Context) (*service.AppContext, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(&logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return c.newEngine(ctx, cfg)
}

func contractArgs(args []string) (model.Kind, int, error) {
	kind, err := model.ParseKind(args[0])
	if err != nil {
		return "", 0, err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("contract index must be a non-negative integer, got %q", args[1])
	}
	return kind, idx, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// failure turns an engine error into the caller-facing message.
func failure(err error) error {
	return fmt.Errorf("%s: %s", service.ClassOf(err), service.MessageOf(err))
}
