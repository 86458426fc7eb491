package domain

import "time"

// SessionState models the conversation lifecycle driven by the coordinator.
type SessionState string

const (
	SessionStateAwaitingUnlock SessionState = "awaiting_unlock"
	SessionStateListening      SessionState = "listening"
	SessionStateTranscribing   SessionState = "transcribing"
	SessionStateExchanging     SessionState = "exchanging"
	SessionStateSynthesizing   SessionState = "synthesizing"
	SessionStateSpeaking       SessionState = "speaking"
	SessionStatePaused         SessionState = "paused"
	SessionStateCompleted      SessionState = "completed"
	SessionStateFailed         SessionState = "failed"
)

// PipelineState names the single pipeline stage that is active.
type PipelineState string

const (
	PipelineIdle         PipelineState = "idle"
	PipelineCapturing    PipelineState = "capturing"
	PipelineTranscribing PipelineState = "transcribing"
	PipelineExchanging   PipelineState = "exchanging"
	PipelineSynthesizing PipelineState = "synthesizing"
	PipelinePlaying      PipelineState = "playing"
	PipelineError        PipelineState = "error"
)

// PipelineStateOf maps a session state onto exactly one pipeline stage.
func PipelineStateOf(state SessionState) PipelineState {
	switch state {
	case SessionStateListening:
		return PipelineCapturing
	case SessionStateTranscribing:
		return PipelineTranscribing
	case SessionStateExchanging:
		return PipelineExchanging
	case SessionStateSynthesizing:
		return PipelineSynthesizing
	case SessionStateSpeaking:
		return PipelinePlaying
	case SessionStateFailed:
		return PipelineError
	default:
		return PipelineIdle
	}
}

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold             SessionStateReason = "mic_cold"
	SessionReasonUnlocked            SessionStateReason = "playback_unlocked"
	SessionReasonRecordingStarted    SessionStateReason = "recording_started"
	SessionReasonRecordingRestarted  SessionStateReason = "recording_restarted"
	SessionReasonCountdownExpired    SessionStateReason = "countdown_expired"
	SessionReasonManualStop          SessionStateReason = "manual_stop"
	SessionReasonTranscriptReady     SessionStateReason = "transcript_ready"
	SessionReasonFirstPrompt         SessionStateReason = "first_prompt"
	SessionReasonResponseReady       SessionStateReason = "response_ready"
	SessionReasonPlaybackStarted     SessionStateReason = "playback_started"
	SessionReasonTurnCompleted       SessionStateReason = "turn_completed"
	SessionReasonTurnFailed          SessionStateReason = "turn_failed"
	SessionReasonExchangeFailed      SessionStateReason = "exchange_failed"
	SessionReasonTranscriptionFailed SessionStateReason = "transcription_failed"
	SessionReasonPermissionDenied    SessionStateReason = "permission_denied"
	SessionReasonProviderOutage      SessionStateReason = "provider_outage"
	SessionReasonPaused              SessionStateReason = "paused"
	SessionReasonResumed             SessionStateReason = "resumed"
	SessionReasonExtended            SessionStateReason = "extended"
	SessionReasonCompleted           SessionStateReason = "completed"
	SessionReasonClockExpired        SessionStateReason = "clock_expired"
	SessionReasonLifecycleFailed     SessionStateReason = "lifecycle_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors reported to the UI.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodePermission    ErrorCode = "permission"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeRecognition   ErrorCode = "recognition"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeRules         ErrorCode = "rules"
	ErrorCodeExchange      ErrorCode = "exchange"
	ErrorCodeSynthesis     ErrorCode = "synthesis"
	ErrorCodePlayback      ErrorCode = "playback"
	ErrorCodeLifecycle     ErrorCode = "lifecycle"
)

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}

// TurnOutcome records how a turn ended.
type TurnOutcome string

const (
	TurnOutcomePending   TurnOutcome = ""
	TurnOutcomeCompleted TurnOutcome = "completed"
	TurnOutcomeAborted   TurnOutcome = "aborted"
	TurnOutcomeFailed    TurnOutcome = "failed"
)

// Turn is one user-utterance/assistant-response cycle.
type Turn struct {
	ID            string      `json:"id"`
	Index         int         `json:"index"`
	RawTranscript string      `json:"rawTranscript"`
	Transcript    string      `json:"transcript"`
	ResponseText  string      `json:"responseText"`
	StartedAt     time.Time   `json:"startedAt"`
	EndedAt       time.Time   `json:"endedAt"`
	Outcome       TurnOutcome `json:"outcome"`
	Error         string      `json:"error,omitempty"`
}

// Closed reports whether the turn already has an outcome.
func (t *Turn) Closed() bool {
	return t.Outcome != TurnOutcomePending
}

// Close stamps the outcome once; later calls are ignored.
func (t *Turn) Close(outcome TurnOutcome, err error, at time.Time) {
	if t.Closed() {
		return
	}
	t.Outcome = outcome
	t.EndedAt = at
	if err != nil {
		t.Error = err.Error()
	}
}

// ClockPhase is the phase of the session clock.
type ClockPhase string

const (
	ClockPhaseUnlock    ClockPhase = "unlock"
	ClockPhaseActive    ClockPhase = "active"
	ClockPhasePaused    ClockPhase = "paused"
	ClockPhaseExtending ClockPhase = "extending"
	ClockPhaseCompleted ClockPhase = "completed"
)

// SessionInfo is what the lifecycle service hands back after creation.
type SessionInfo struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Title       string        `json:"title,omitempty"`
	Duration    time.Duration `json:"duration"`
	FirstPrompt string        `json:"firstPrompt,omitempty"`
}

// SessionParams are the inputs of session creation.
type SessionParams struct {
	UserID             string `json:"uid"`
	DurationMinutes    int    `json:"duration"`
	TreatmentGoals     string `json:"treatment_goals"`
	ClientExpectations string `json:"client_expectations"`
	SessionNotes       string `json:"session_notes,omitempty"`
	TerminationPlan    string `json:"termination_plan"`
	ReviewOfProgress   string `json:"review_of_progress,omitempty"`
	ThankYouNote       string `json:"thank_you_note,omitempty"`
}

// Status summarizes the current runtime status.
type Status struct {
	State     SessionState  `json:"state"`
	Pipeline  PipelineState `json:"pipeline"`
	Active    bool          `json:"active"`
	SessionID string        `json:"sessionId,omitempty"`
	TurnIndex int           `json:"turnIndex"`
	Phase     ClockPhase    `json:"phase,omitempty"`
	Remaining time.Duration `json:"remaining"`
	Message   string        `json:"message,omitempty"`
}
