package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

var (
	ErrSessionActive     = errors.New("conversation session already started")
	ErrSessionNotStarted = errors.New("conversation session not started")
	ErrSessionFinished   = errors.New("conversation session already finished")
	ErrNotListening      = errors.New("no turn is listening")
	ErrNotPaused         = errors.New("conversation session is not paused")
)

// Capturer is the capture side of a turn.
type Capturer interface {
	StartCapture(ctx context.Context) (<-chan CaptureResult, error)
	StopCapture(manual bool) (string, error)
	Abort() error
}

// Speaker is the playback side of a turn.
type Speaker interface {
	UnlockPlayback(ctx context.Context) error
	Speak(ctx context.Context, text string, opts ...SpeakOption) error
	Interrupt()
}

// CoordinatorConfig tunes session-level policy.
type CoordinatorConfig struct {
	// MaxRecognitionFailures ends the session after that many consecutive
	// terminal recognition failures.
	MaxRecognitionFailures int
	DefaultDuration        time.Duration
}

// Coordinator drives a conversation session turn by turn. It owns the
// session clock and the only goroutine that sequences pipeline stages.
type Coordinator struct {
	capture   Capturer
	speaker   Speaker
	exchange  ports.PromptExchange
	lifecycle ports.SessionLifecycle
	finalizer transcriptFinalizer
	guard     *TurnGuard
	events    ports.EventSink
	cfg       CoordinatorConfig
	log       *slog.Logger
	now       func() time.Time

	mu                  sync.Mutex
	state               domain.SessionState
	session             domain.SessionInfo
	clock               *SessionClock
	turnIndex           int
	lastTurn            domain.Turn
	previous            string
	recognitionFailures int
	paused              bool
	finished            bool
	turnCancel          context.CancelFunc
	loopCancel          context.CancelFunc
	loopDone            chan struct{}
	wake                chan struct{}
}

func NewCoordinator(
	capture Capturer,
	speaker Speaker,
	exchange ports.PromptExchange,
	lifecycle ports.SessionLifecycle,
	rules ports.RulesEngine,
	guard *TurnGuard,
	events ports.EventSink,
	cfg CoordinatorConfig,
) *Coordinator {
	if cfg.MaxRecognitionFailures <= 0 {
		cfg.MaxRecognitionFailures = 3
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = 30 * time.Minute
	}
	if guard == nil {
		guard = NewTurnGuard()
	}
	return &Coordinator{
		capture:   capture,
		speaker:   speaker,
		exchange:  exchange,
		lifecycle: lifecycle,
		finalizer: newTranscriptFinalizer(rules, events),
		guard:     guard,
		events:    events,
		cfg:       cfg,
		log:       logging.Component("coordinator"),
		now:       time.Now,
		state:     domain.SessionStateAwaitingUnlock,
		wake:      make(chan struct{}, 1),
	}
}

// CreateSession asks the lifecycle service for a new session.
func (c *Coordinator) CreateSession(ctx context.Context, params domain.SessionParams) (domain.SessionInfo, error) {
	info, err := c.lifecycle.Create(ctx, params)
	if err != nil {
		err = asKind(domain.KindLifecycle, "create session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
		return domain.SessionInfo{}, err
	}
	return info, nil
}

// Start must follow a user gesture: it unlocks playback, starts the clock
// and runs turns until the session pauses, completes or fails. ctx bounds
// the whole session. A finished session may be followed by a new one.
func (c *Coordinator) Start(ctx context.Context, info domain.SessionInfo) error {
	if strings.TrimSpace(info.ID) == "" {
		return errors.New("session id is required")
	}

	c.mu.Lock()
	for c.loopDone != nil && c.finished {
		prev := c.loopDone
		c.mu.Unlock()
		<-prev
		c.mu.Lock()
		if c.loopDone == prev {
			c.resetLocked()
		}
	}
	if c.loopDone != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.loopDone = make(chan struct{})
	c.mu.Unlock()

	if err := c.speaker.UnlockPlayback(ctx); err != nil {
		c.mu.Lock()
		c.loopDone = nil
		c.mu.Unlock()
		c.events.SessionError(domain.ErrorCodePlayback, err.Error())
		return err
	}
	c.events.SessionStateChanged(domain.SessionStateAwaitingUnlock, domain.SessionReasonUnlocked)

	if info.Duration <= 0 {
		info.Duration = c.cfg.DefaultDuration
	}
	clock := NewSessionClock(info.Duration)
	clock.Start()

	loopCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.session = info
	c.clock = clock
	c.loopCancel = cancel
	done := c.loopDone
	c.mu.Unlock()

	c.log.Info("session started", "session_id", info.ID, "duration", info.Duration, "opening", info.FirstPrompt != "")
	go c.run(loopCtx, strings.TrimSpace(info.FirstPrompt), done)
	return nil
}

// StopTurn ends the listening phase of the current turn.
func (c *Coordinator) StopTurn() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()
	if state != domain.SessionStateListening {
		return ErrNotListening
	}
	_, err := c.capture.StopCapture(true)
	return err
}

// Pause interrupts whatever stage is running and pauses the session.
func (c *Coordinator) Pause(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkRunningLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.paused {
		c.mu.Unlock()
		return nil
	}
	c.paused = true
	c.state = domain.SessionStatePaused
	c.guard.Suspend()
	cancel, id, clock := c.turnCancel, c.session.ID, c.clock
	c.mu.Unlock()

	c.interruptTurn(cancel)

	if err := c.lifecycle.Pause(ctx, id); err != nil {
		err = asKind(domain.KindLifecycle, "pause session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
		c.mu.Lock()
		c.paused = false
		c.state = domain.SessionStateListening
		c.guard.Unsuspend()
		c.mu.Unlock()
		c.signal()
		c.events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonLifecycleFailed)
		return err
	}

	clock.Pause()
	c.log.Info("session paused", "session_id", id)
	c.events.SessionStateChanged(domain.SessionStatePaused, domain.SessionReasonPaused)
	return nil
}

// Resume lets turns run again after Pause.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkRunningLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.paused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	id, clock := c.session.ID, c.clock
	c.mu.Unlock()

	if err := c.lifecycle.Resume(ctx, id); err != nil {
		err = asKind(domain.KindLifecycle, "resume session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
		return err
	}

	clock.Resume()
	c.mu.Lock()
	c.paused = false
	c.state = domain.SessionStateListening
	c.guard.Unsuspend()
	c.mu.Unlock()
	c.signal()

	c.log.Info("session resumed", "session_id", id)
	c.events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonResumed)
	return nil
}

// Extend adds minutes to the session on the lifecycle service and the clock.
func (c *Coordinator) Extend(ctx context.Context, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("extension must be positive, got %d minutes", minutes)
	}

	c.mu.Lock()
	if err := c.checkRunningLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	id, clock := c.session.ID, c.clock
	c.mu.Unlock()

	clock.BeginExtend()
	if err := c.lifecycle.Extend(ctx, id, minutes); err != nil {
		clock.EndExtend(0)
		err = asKind(domain.KindLifecycle, "extend session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
		return err
	}
	clock.EndExtend(time.Duration(minutes) * time.Minute)

	c.log.Info("session extended", "session_id", id, "minutes", minutes)
	c.events.SessionStateChanged(c.State(), domain.SessionReasonExtended)
	return nil
}

// Complete ends the session on the lifecycle service.
func (c *Coordinator) Complete(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkRunningLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	wasPaused := c.paused
	c.paused = true
	c.guard.Suspend()
	cancel, id := c.turnCancel, c.session.ID
	c.mu.Unlock()

	c.interruptTurn(cancel)

	if err := c.lifecycle.Complete(ctx, id); err != nil {
		err = asKind(domain.KindLifecycle, "complete session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
		c.mu.Lock()
		c.paused = wasPaused
		if !wasPaused {
			c.guard.Unsuspend()
		}
		c.mu.Unlock()
		c.signal()
		return err
	}

	c.finish(domain.SessionStateCompleted, domain.SessionReasonCompleted)
	return nil
}

// Shutdown stops the run loop and waits for it. Lifecycle is not notified.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	cancel, done := c.loopCancel, c.loopDone
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.speaker.Interrupt()
	_ = c.capture.Abort()
	<-done
}

// Done is closed when the run loop has exited.
func (c *Coordinator) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loopDone == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return c.loopDone
}

func (c *Coordinator) State() domain.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastTurn returns a copy of the most recently closed turn.
func (c *Coordinator) LastTurn() domain.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTurn
}

// Status returns the current conversation status.
func (c *Coordinator) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := domain.Status{
		State:     c.state,
		Pipeline:  domain.PipelineStateOf(c.state),
		Active:    c.loopDone != nil && !c.finished,
		SessionID: c.session.ID,
		TurnIndex: c.turnIndex,
	}
	if c.clock != nil {
		status.Phase = c.clock.Phase()
		status.Remaining = c.clock.Remaining()
	}
	return status
}

func (c *Coordinator) run(ctx context.Context, opening string, done chan struct{}) {
	defer close(done)

	for {
		if !c.awaitActive(ctx) {
			return
		}
		if c.clockExpired() {
			c.expire(ctx)
			return
		}
		outcome, stop := c.runTurn(ctx, opening)
		if stop {
			return
		}
		if outcome == domain.TurnOutcomeCompleted || outcome == domain.TurnOutcomeFailed {
			opening = ""
		}
	}
}

func (c *Coordinator) awaitActive(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		c.mu.Lock()
		finished, paused := c.finished, c.paused
		c.mu.Unlock()
		if finished {
			return false
		}
		if !paused {
			return true
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// runTurn executes one turn and reports its outcome and whether the session
// is over. An aborted opening turn is spoken again on the next run.
func (c *Coordinator) runTurn(ctx context.Context, opening string) (domain.TurnOutcome, bool) {
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.paused || c.finished {
		finished := c.finished
		c.mu.Unlock()
		return domain.TurnOutcomePending, finished
	}
	c.turnCancel = cancel
	turn := &domain.Turn{ID: uuid.NewString(), Index: c.turnIndex, StartedAt: c.now()}
	c.turnIndex++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.turnCancel = nil
		c.mu.Unlock()
	}()

	var err error
	if opening != "" {
		turn.ResponseText = opening
		err = c.respond(turnCtx, turn, domain.SessionReasonFirstPrompt)
	} else {
		err = c.converse(turnCtx, turn)
	}
	stop := c.closeTurn(turn, err)
	return turn.Outcome, stop
}

func (c *Coordinator) converse(ctx context.Context, turn *domain.Turn) error {
	c.setState(domain.SessionStateListening, domain.SessionReasonRecordingStarted)

	results, err := c.capture.StartCapture(ctx)
	if err != nil {
		return startFailure{err: err}
	}

	var result CaptureResult
	select {
	case result = <-results:
	case <-ctx.Done():
		_ = c.capture.Abort()
		return ctx.Err()
	}
	if result.Err != nil {
		return result.Err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.resetRecognitionFailures()

	reason := domain.SessionReasonCountdownExpired
	if result.Manual {
		reason = domain.SessionReasonManualStop
	}
	c.setState(domain.SessionStateTranscribing, reason)
	turn.RawTranscript = result.Transcript
	turn.Transcript, _ = c.finalizer.Finalize(result.Transcript)

	c.setState(domain.SessionStateExchanging, domain.SessionReasonTranscriptReady)
	c.mu.Lock()
	userID, sessionID, previous := c.session.UserID, c.session.ID, c.previous
	c.mu.Unlock()

	reply, err := c.exchange.Exchange(ctx, userID, turn.Transcript, sessionID, previous)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return asKind(domain.KindExchange, "exchange", err)
	}
	c.mu.Lock()
	c.previous = turn.Transcript
	c.mu.Unlock()

	turn.ResponseText = reply.Text
	return c.respond(ctx, turn, domain.SessionReasonResponseReady)
}

func (c *Coordinator) respond(ctx context.Context, turn *domain.Turn, reason domain.SessionStateReason) error {
	c.setState(domain.SessionStateSynthesizing, reason)
	return c.speaker.Speak(ctx, turn.ResponseText, OnPlaybackStart(func() {
		c.setState(domain.SessionStateSpeaking, domain.SessionReasonPlaybackStarted)
	}))
}

func (c *Coordinator) closeTurn(turn *domain.Turn, err error) bool {
	switch {
	case err == nil:
		turn.Close(domain.TurnOutcomeCompleted, nil, c.now())
	case isTurnAbort(err):
		turn.Close(domain.TurnOutcomeAborted, nil, c.now())
	default:
		turn.Close(domain.TurnOutcomeFailed, err, c.now())
	}

	c.mu.Lock()
	c.lastTurn = *turn
	c.mu.Unlock()
	c.events.TurnClosed(*turn)

	if turn.Outcome != domain.TurnOutcomeFailed {
		return false
	}

	c.log.Warn("turn failed", "turn", turn.Index, "err", err)
	c.events.SessionError(domain.ErrorCodeFor(err), err.Error())

	var startErr startFailure
	reason := domain.SessionReasonTurnFailed
	switch kind := domain.KindOf(err); {
	case kind == domain.KindPermissionDenied:
		c.finish(domain.SessionStateFailed, domain.SessionReasonPermissionDenied)
		return true
	case kind == domain.KindUnsupported:
		c.finish(domain.SessionStateFailed, domain.SessionReasonProviderOutage)
		return true
	case kind == domain.KindRecognition || errors.As(err, &startErr):
		// capture that never started counts toward the outage limit
		if c.bumpRecognitionFailures() >= c.cfg.MaxRecognitionFailures {
			c.finish(domain.SessionStateFailed, domain.SessionReasonProviderOutage)
			return true
		}
	case kind == domain.KindExchange:
		reason = domain.SessionReasonExchangeFailed
	case kind == domain.KindTranscription:
		reason = domain.SessionReasonTranscriptionFailed
	}
	c.setState(domain.SessionStateListening, reason)
	return false
}

// expire completes the session once its clock has run out.
func (c *Coordinator) expire(ctx context.Context) {
	c.mu.Lock()
	id := c.session.ID
	c.mu.Unlock()

	if err := c.lifecycle.Complete(ctx, id); err != nil {
		err = asKind(domain.KindLifecycle, "complete session", err)
		c.events.SessionError(domain.ErrorCodeLifecycle, err.Error())
	}
	c.finish(domain.SessionStateCompleted, domain.SessionReasonClockExpired)
}

func (c *Coordinator) finish(state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.state = state
	clock, cancel := c.clock, c.loopCancel
	c.mu.Unlock()

	if clock != nil {
		clock.Complete()
	}
	c.signal()
	c.log.Info("session finished", "state", state, "reason", reason)
	c.events.SessionStateChanged(state, reason)
	if cancel != nil {
		cancel()
	}
}

func (c *Coordinator) interruptTurn(cancel context.CancelFunc) {
	if cancel != nil {
		cancel()
	}
	c.speaker.Interrupt()
	if err := c.capture.Abort(); err != nil && !errors.Is(err, ErrNoActiveSession) {
		c.log.Warn("failed to abort capture", "err", err)
	}
}

// setState records a pipeline transition unless the session is paused or over.
func (c *Coordinator) setState(state domain.SessionState, reason domain.SessionStateReason) {
	c.mu.Lock()
	if c.paused || c.finished {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()
	c.events.SessionStateChanged(state, reason)
}

// resetLocked clears the state of a finished session whose run loop has
// exited.
func (c *Coordinator) resetLocked() {
	c.state = domain.SessionStateAwaitingUnlock
	c.session = domain.SessionInfo{}
	c.clock = nil
	c.turnIndex = 0
	c.lastTurn = domain.Turn{}
	c.previous = ""
	c.recognitionFailures = 0
	c.paused = false
	c.finished = false
	c.turnCancel = nil
	c.loopCancel = nil
	c.loopDone = nil
	c.guard.Unsuspend()
}

func (c *Coordinator) checkRunningLocked() error {
	if c.loopDone == nil || c.clock == nil {
		return ErrSessionNotStarted
	}
	if c.finished {
		return ErrSessionFinished
	}
	return nil
}

func (c *Coordinator) clockExpired() bool {
	c.mu.Lock()
	clock := c.clock
	c.mu.Unlock()
	return clock != nil && clock.IsExpired()
}

func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) resetRecognitionFailures() {
	c.mu.Lock()
	c.recognitionFailures = 0
	c.mu.Unlock()
}

func (c *Coordinator) bumpRecognitionFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recognitionFailures++
	return c.recognitionFailures
}

// startFailure marks an error returned before capture was running.
type startFailure struct{ err error }

func (e startFailure) Error() string { return e.err.Error() }
func (e startFailure) Unwrap() error { return e.err }

func isTurnAbort(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrCaptureAborted) ||
		errors.Is(err, ErrInterrupted) ||
		errors.Is(err, ErrGuardSuspended)
}

func asKind(kind domain.ErrorKind, op string, err error) error {
	if domain.KindOf(err) != "" {
		return err
	}
	return domain.NewError(kind, op, err)
}
