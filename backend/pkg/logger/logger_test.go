package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{"debug level text", &Config{Level: "debug", Format: "text"}},
		{"info level json", &Config{Level: "info", Format: "json"}},
		{"warn level text", &Config{Level: "warn", Format: "text"}},
		{"error level json", &Config{Level: "error", Format: "json"}},
		{"default level", &Config{Level: "invalid", Format: "text"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Init(tt.config)
			slog.Info("test message")
		})
	}
}

func TestWithContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(New(&Config{Level: "debug", Format: "text"}, &buf))

	ctx := context.Background()
	ctx = context.WithValue(ctx, RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, PrincipalKey, "ops")
	ctx = context.WithValue(ctx, ContractKey, "advance:4")

	Info(ctx, "info message", "key", "value")
	out := buf.String()
	for _, want := range []string{"info message", "request_id=req-123", "principal=ops", "contract=advance:4", "key=value"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in log output %q", want, out)
		}
	}
}

func TestWithContextEmpty(t *testing.T) {
	Init(&Config{Level: "info", Format: "text"})
	if WithContext(context.Background()) == nil {
		t.Error("Expected non-nil logger")
	}
}

func TestLogFunctions(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(New(&Config{Level: "debug", Format: "text"}, &buf))

	ctx := context.Background()

	tests := []struct {
		name string
		log  func(context.Context, string, ...any)
	}{
		{"debug message", Debug},
		{"info message", Info},
		{"warn message", Warn},
		{"error message", Error},
	}
	for _, tt := range tests {
		buf.Reset()
		tt.log(ctx, tt.name)
		if !strings.Contains(buf.String(), tt.name) {
			t.Errorf("Expected %q in log", tt.name)
		}
	}
}

func TestCriticalLevelName(t *testing.T) {
	var buf bytes.Buffer
	slog.SetDefault(New(&Config{Level: "error", Format: "json"}, &buf))

	Critical(context.Background(), "funds moved without ledger record")
	if !strings.Contains(buf.String(), `"level":"CRITICAL"`) {
		t.Errorf("Expected CRITICAL level, got %s", buf.String())
	}
}
