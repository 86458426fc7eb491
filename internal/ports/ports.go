package ports

import (
	"context"
	"io"
	"time"

	"parley/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is one continuous-recognition attempt.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming recognition sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RecognitionConfig describes the clip handed to SpeechToText.
type RecognitionConfig struct {
	Encoding     string
	SampleRate   int
	LanguageCode string
}

// SpeechToText transcribes a whole clip.
type SpeechToText interface {
	Recognize(ctx context.Context, clip domain.AudioClip, cfg RecognitionConfig) (string, error)
}

// Voice selects a synthesis voice.
type Voice struct {
	LanguageCode string
	Name         string
}

// TextToSpeech synthesizes text into a clip.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, voice Voice, encoding string) (domain.AudioClip, error)
}

// SpeechSource produces audio for response text; the client uses the
// synthesis endpoint, the server uses TextToSpeech directly.
type SpeechSource interface {
	Speech(ctx context.Context, text string) (domain.AudioClip, error)
}

// Playable is a prepared output resource. Release must always be called.
type Playable interface {
	Play(ctx context.Context) error
	Release() error
}

// AudioOutput is the speaker side of the device.
type AudioOutput interface {
	Prepare(clip domain.AudioClip) (Playable, error)
}

// PromptReply is the prompt/response service answer.
type PromptReply struct {
	Text      string
	Timestamp time.Time
}

// PromptExchange forwards a transcript to the prompt/response service.
type PromptExchange interface {
	Exchange(ctx context.Context, userID, transcript, sessionID, previous string) (PromptReply, error)
}

// SessionLifecycle is the external session service.
type SessionLifecycle interface {
	Create(ctx context.Context, params domain.SessionParams) (domain.SessionInfo, error)
	Pause(ctx context.Context, sessionID string) error
	Resume(ctx context.Context, sessionID string) error
	Extend(ctx context.Context, sessionID string, minutes int) error
	Complete(ctx context.Context, sessionID string) error
}

// RulesEngine transforms transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	PartialTranscript(text string)
	FinalTranscript(raw string, transformed string)
	Countdown(remaining time.Duration)
	TurnClosed(turn domain.Turn)
	SessionError(code domain.ErrorCode, detail string)
}
