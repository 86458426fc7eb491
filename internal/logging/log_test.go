package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("%q: expected %v, got %v", input, want, got)
		}
	}
}

func TestComponentLoggerIsUsable(t *testing.T) {
	t.Parallel()

	if Component("capture") == nil {
		t.Fatalf("expected logger")
	}
}
