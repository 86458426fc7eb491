package main

import (
	"errors"
	"testing"
	"time"

	"parley/internal/domain"
)

func TestSessionReasonMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.SessionStateReason]string{
		domain.SessionReasonMicCold:             "Mic cold",
		domain.SessionReasonUnlocked:            "Audio ready",
		domain.SessionReasonRecordingStarted:    "Listening",
		domain.SessionReasonRecordingRestarted:  "Recognition restarted; transcript kept",
		domain.SessionReasonExchangeFailed:      "Could not reach the assistant; try again",
		domain.SessionReasonProviderOutage:      "Speech recognition is unavailable",
		domain.SessionReasonPaused:              "Session paused",
		domain.SessionReasonClockExpired:        "Session time is over",
		domain.SessionReasonTranscriptionFailed: "Transcription failed",
	}

	for reason, want := range cases {
		reason := reason
		want := want
		t.Run(string(reason), func(t *testing.T) {
			t.Parallel()
			if got := sessionReasonMessage(reason); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := sessionReasonMessage("unknown"); got != "" {
		t.Fatalf("expected empty unknown reason message, got %q", got)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	cases := map[domain.ErrorCode]string{
		domain.ErrorCodeStartup:       "Startup failed",
		domain.ErrorCodePermission:    "Microphone permission denied",
		domain.ErrorCodeAudioStream:   "Audio streaming issue",
		domain.ErrorCodeExchange:      "Assistant unavailable",
		domain.ErrorCodeSynthesis:     "Speech synthesis failed",
		domain.ErrorCodePlayback:      "Audio playback failed",
		domain.ErrorCodeLifecycle:     "Session service error",
		domain.ErrorCodeTranscription: "Transcription error",
	}
	for code, want := range cases {
		code := code
		want := want
		t.Run(string(code), func(t *testing.T) {
			t.Parallel()
			if got := errorMessage(code, "ignored"); got != want {
				t.Fatalf("unexpected message: %q", got)
			}
		})
	}

	if got := errorMessage("unknown", "detail"); got != "detail" {
		t.Fatalf("expected detail fallback, got %q", got)
	}
	if got := errorMessage("unknown", ""); got != "Unknown error" {
		t.Fatalf("expected unknown fallback, got %q", got)
	}
}

func TestCountdownSecondsRoundsUp(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]int{
		-time.Second:       0,
		0:                  0,
		time.Millisecond:   1,
		time.Second:        1,
		29*time.Second + 1: 30,
		30 * time.Second:   30,
	}
	for in, want := range cases {
		if got := countdownSeconds(in); got != want {
			t.Fatalf("countdownSeconds(%s) = %d, want %d", in, got, want)
		}
	}
}

func TestRequireReady(t *testing.T) {
	t.Parallel()

	app := &App{}
	if err := app.requireReady(); err == nil {
		t.Fatalf("expected uninitialized error")
	}
	if err := app.StopTurn(); err == nil {
		t.Fatalf("expected StopTurn to require initialization")
	}

	bootErr := errors.New("boot")
	app.bootErr = bootErr
	if err := app.requireReady(); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error, got %v", err)
	}
	if _, err := app.StartSession(domain.SessionInfo{ID: "s1"}); !errors.Is(err, bootErr) {
		t.Fatalf("expected boot error from StartSession, got %v", err)
	}
}

func TestGetStatusWhenNotInitialized(t *testing.T) {
	t.Parallel()

	app := &App{}
	status := app.GetStatus()
	if status.State != domain.SessionStateAwaitingUnlock || status.Active {
		t.Fatalf("unexpected status: %+v", status)
	}

	app.bootErr = errors.New("boot")
	status = app.GetStatus()
	if status.State != domain.SessionStateFailed || status.Pipeline != domain.PipelineError || status.Message != "boot" {
		t.Fatalf("unexpected boot status: %+v", status)
	}
}

func TestEventSinkIgnoresCallsBeforeStartup(t *testing.T) {
	t.Parallel()

	app := &App{}
	app.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonRecordingStarted)
	app.PartialTranscript("hi")
	app.FinalTranscript("hi", "hi")
	app.Countdown(time.Second)
	app.TurnClosed(domain.Turn{ID: "t1"})
	app.SessionError(domain.ErrorCodeExchange, "down")
}
