package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"parley/internal/config"
	"parley/internal/domain"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Deepgram: config.DeepgramConfig{APIKey: "test-key"},
		Audio: config.AudioConfig{
			RecorderCommand: writeScript(t, dir, "ffmpeg"),
			PlayerCommand:   writeScript(t, dir, "ffplay"),
			SampleRate:      16000,
			Channels:        1,
		},
		Rules:   config.RulesConfig{IterationLimit: 30},
		Session: config.SessionConfig{TurnBudget: 30 * time.Second},
		Server:  config.ServerConfig{UploadDir: dir},
	}
}

func TestBuildClientSuccess(t *testing.T) {
	t.Parallel()

	client, err := BuildClientFromConfig(testConfig(t), noopEventSink{})
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if client.Coordinator == nil {
		t.Fatalf("expected coordinator")
	}
	if client.Coordinator.State() != domain.SessionStateAwaitingUnlock {
		t.Fatalf("unexpected initial state: %s", client.Coordinator.State())
	}
}

func TestBuildClientRequiresRecognitionKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Deepgram.APIKey = ""
	if _, err := BuildClientFromConfig(cfg, noopEventSink{}); !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBuildClientRequiresMediaBinaries(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Audio.PlayerCommand = filepath.Join(t.TempDir(), "missing-ffplay")
	if _, err := BuildClientFromConfig(cfg, noopEventSink{}); !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestBuildClientFailsOnInvalidRules(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Rules.Path = filepath.Join(t.TempDir(), "bad.rules")
	if err := os.WriteFile(cfg.Rules.Path, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := BuildClientFromConfig(cfg, noopEventSink{}); err == nil {
		t.Fatalf("expected build error due to invalid rules")
	}
}

func TestBuildServerServesHealth(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Google.APIKey = "test-key"
	srv, err := BuildServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy server, got %d", rec.Code)
	}
}

func TestBuildServerRejectsUnreadableCredentials(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Google.CredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	if _, err := BuildServer(context.Background(), cfg); !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func writeScript(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write script failed: %v", err)
	}
	return path
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(_ domain.SessionState, _ domain.SessionStateReason) {}
func (noopEventSink) PartialTranscript(_ string)                                             {}
func (noopEventSink) FinalTranscript(_, _ string)                                            {}
func (noopEventSink) Countdown(_ time.Duration)                                              {}
func (noopEventSink) TurnClosed(_ domain.Turn)                                               {}
func (noopEventSink) SessionError(_ domain.ErrorCode, _ string)                              {}
