package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"parley/internal/bootstrap"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/usecase"
)

const (
	eventSession   = "parley:session"
	eventPartial   = "parley:partial"
	eventFinal     = "parley:final"
	eventCountdown = "parley:countdown"
	eventTurn      = "parley:turn"
	eventError     = "parley:error"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	coordinator *usecase.Coordinator
	cfg         config.Config
	bootErr     error
}

func NewApp() *App {
	return &App{}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	client, err := bootstrap.BuildClient(a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.cfg = client.Config
	a.coordinator = client.Coordinator
	a.SessionStateChanged(domain.SessionStateAwaitingUnlock, domain.SessionReasonMicCold)
}

func (a *App) shutdown(_ context.Context) {
	if a.coordinator != nil {
		a.coordinator.Shutdown()
	}
}

// CreateSession registers a new session with the lifecycle service.
func (a *App) CreateSession(params domain.SessionParams) (domain.SessionInfo, error) {
	if err := a.requireReady(); err != nil {
		return domain.SessionInfo{}, err
	}
	return a.coordinator.CreateSession(a.ctx, params)
}

// StartSession is bound to the user's start gesture; it unlocks playback and
// begins the first turn.
func (a *App) StartSession(info domain.SessionInfo) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.coordinator.Start(a.ctx, info); err != nil {
		if errors.Is(err, usecase.ErrSessionActive) {
			return a.coordinator.Status(), nil
		}
		return domain.Status{}, err
	}
	return a.coordinator.Status(), nil
}

// StopTurn ends listening for the current turn ahead of the countdown.
func (a *App) StopTurn() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.coordinator.StopTurn(); err != nil {
		if errors.Is(err, usecase.ErrNotListening) || errors.Is(err, usecase.ErrNoActiveSession) {
			return nil
		}
		a.SessionError(domain.ErrorCodeFor(err), err.Error())
		return err
	}
	return nil
}

func (a *App) Pause() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.Pause(a.ctx)
}

func (a *App) Resume() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.Resume(a.ctx)
}

// Extend adds minutes to the running session.
func (a *App) Extend(minutes int) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.Extend(a.ctx, minutes)
}

func (a *App) Complete() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.Complete(a.ctx)
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.coordinator == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateFailed, Pipeline: domain.PipelineError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateAwaitingUnlock, Pipeline: domain.PipelineIdle, Active: false}
	}
	return a.coordinator.Status()
}

// GetLastTurn returns the most recently closed turn.
func (a *App) GetLastTurn() domain.Turn {
	if a.coordinator == nil {
		return domain.Turn{}
	}
	return a.coordinator.LastTurn()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":         "Deepgram",
		"model":            a.cfg.Deepgram.Model,
		"language":         a.cfg.Deepgram.Language,
		"rulesFile":        a.cfg.Rules.Path,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"turnBudget":       a.cfg.Session.TurnBudget.String(),
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coordinator == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":    string(state),
		"pipeline": string(domain.PipelineStateOf(state)),
		"reason":   string(reason),
		"message":  sessionReasonMessage(reason),
	})
}

// PartialTranscript emits live partial transcript text.
func (a *App) PartialTranscript(text string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventPartial, map[string]string{"text": text})
}

// FinalTranscript emits the turn transcript before it is exchanged.
func (a *App) FinalTranscript(raw string, transformed string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventFinal, map[string]string{
		"raw":         raw,
		"transformed": transformed,
	})
}

// Countdown emits the remaining listening time in whole seconds.
func (a *App) Countdown(remaining time.Duration) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventCountdown, map[string]int{"seconds": countdownSeconds(remaining)})
}

// TurnClosed emits the closed turn record.
func (a *App) TurnClosed(turn domain.Turn) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventTurn, turn)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func countdownSeconds(remaining time.Duration) int {
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonMicCold:
		return "Mic cold"
	case domain.SessionReasonUnlocked:
		return "Audio ready"
	case domain.SessionReasonRecordingStarted:
		return "Listening"
	case domain.SessionReasonRecordingRestarted:
		return "Recognition restarted; transcript kept"
	case domain.SessionReasonCountdownExpired:
		return "Time is up for this answer"
	case domain.SessionReasonManualStop:
		return "Recording stopped"
	case domain.SessionReasonTranscriptReady:
		return "Thinking..."
	case domain.SessionReasonFirstPrompt:
		return "Opening question"
	case domain.SessionReasonResponseReady:
		return "Preparing reply"
	case domain.SessionReasonPlaybackStarted:
		return "Speaking"
	case domain.SessionReasonTurnCompleted:
		return "Your turn"
	case domain.SessionReasonTurnFailed:
		return "Turn failed; try again"
	case domain.SessionReasonExchangeFailed:
		return "Could not reach the assistant; try again"
	case domain.SessionReasonTranscriptionFailed:
		return "Transcription failed"
	case domain.SessionReasonPermissionDenied:
		return "Microphone unavailable"
	case domain.SessionReasonProviderOutage:
		return "Speech recognition is unavailable"
	case domain.SessionReasonPaused:
		return "Session paused"
	case domain.SessionReasonResumed:
		return "Session resumed"
	case domain.SessionReasonExtended:
		return "Session extended"
	case domain.SessionReasonCompleted:
		return "Session complete"
	case domain.SessionReasonClockExpired:
		return "Session time is over"
	case domain.SessionReasonLifecycleFailed:
		return "Session service request failed"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodePermission:
		return "Microphone permission denied"
	case domain.ErrorCodeAudioStop:
		return "Audio stop issue"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeRecognition:
		return "Speech recognition error"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeExchange:
		return "Assistant unavailable"
	case domain.ErrorCodeSynthesis:
		return "Speech synthesis failed"
	case domain.ErrorCodePlayback:
		return "Audio playback failed"
	case domain.ErrorCodeLifecycle:
		return "Session service error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
