package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

var (
	ErrNoActiveSession = errors.New("no active recording session")
	ErrCaptureActive   = errors.New("capture already in progress")
	ErrCaptureAborted  = errors.New("capture aborted")
)

// CaptureConfig controls microphone capture and recognition restarts.
type CaptureConfig struct {
	Audio          ports.AudioConfig
	Streaming      ports.StreamingConfig
	ChunkSize      int
	StreamingGrace time.Duration
	DrainTimeout   time.Duration
	TurnBudget     time.Duration
	TickInterval   time.Duration
	// MaxRestarts bounds transparent restarts after an unrequested end of stream.
	MaxRestarts      int
	TransientRetries int
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.ChunkSize < 256 {
		c.ChunkSize = 4096
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 4 * time.Second
	}
	if c.TurnBudget <= 0 {
		c.TurnBudget = 30 * time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.MaxRestarts < 0 {
		c.MaxRestarts = 0
	}
	if c.TransientRetries < 0 {
		c.TransientRetries = 0
	}
	return c
}

// CaptureController owns the microphone for one turn and assembles its
// transcript from a continuous recognition stream.
type CaptureController struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	guard    *TurnGuard
	events   ports.EventSink
	cfg      CaptureConfig
	log      *slog.Logger

	mu      sync.Mutex
	current *recognitionSession
}

func NewCaptureController(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	guard *TurnGuard,
	events ports.EventSink,
	cfg CaptureConfig,
) *CaptureController {
	if guard == nil {
		guard = NewTurnGuard()
	}
	return &CaptureController{
		audio:    audio,
		provider: provider,
		guard:    guard,
		events:   events,
		cfg:      cfg.withDefaults(),
		log:      logging.Component("capture"),
	}
}

// StartCapture arms the microphone and recognition for one turn. The returned
// channel receives exactly one result when the capture ends for any reason.
func (c *CaptureController) StartCapture(ctx context.Context) (<-chan CaptureResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return nil, ErrCaptureActive
	}

	if err := c.guard.Acquire(ChannelCapture); err != nil {
		return nil, err
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		c.guard.Release(ChannelCapture)
		return nil, domain.NewError(domain.KindPermissionDenied, "start capture", err)
	}

	stream, err := c.provider.StartStreaming(sessionCtx, c.cfg.Streaming)
	if err != nil {
		_ = audioSession.Stop()
		cancel()
		c.guard.Release(ChannelCapture)
		return nil, classifyRecognitionErr(err)
	}

	session := &recognitionSession{
		ctx:        sessionCtx,
		cancel:     cancel,
		audio:      audioSession,
		stream:     stream,
		generation: 1,
		aggregator: newTranscriptAggregator(),
		results:    make(chan CaptureResult, 1),
		superDone:  make(chan struct{}),
		audioDone:  make(chan struct{}),
	}
	session.mu.Lock()
	session.timer = startCountdown(c.cfg.TurnBudget, c.cfg.TickInterval, c.events.Countdown, func() {
		go func() { _, _ = c.finish(session, false, nil, false) }()
	})
	session.mu.Unlock()
	c.current = session

	go c.supervise(session)
	go pumpAudioChunks(session.audio, session, c.cfg.ChunkSize, c.events, c.log, session.audioDone)

	c.log.Debug("capture started", "budget", c.cfg.TurnBudget)
	return session.results, nil
}

// StopCapture halts recognition and returns the transcript. Calling it with
// no capture armed is a no-op.
func (c *CaptureController) StopCapture(manual bool) (string, error) {
	session := c.active()
	if session == nil {
		return "", nil
	}
	return c.finish(session, manual, nil, false)
}

// Abort stops the capture and discards its transcript.
func (c *CaptureController) Abort() error {
	session := c.active()
	if session == nil {
		return ErrNoActiveSession
	}
	_, _ = c.finish(session, false, nil, true)
	return nil
}

// Active reports whether a capture is armed.
func (c *CaptureController) Active() bool {
	return c.active() != nil
}

func (c *CaptureController) active() *recognitionSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// supervise follows the current stream and decides, whenever it ends,
// whether to restart it, let the stop proceed or fail the capture.
func (c *CaptureController) supervise(session *recognitionSession) {
	defer close(session.superDone)

	for {
		stream, gen := session.current()
		consumeTranscriptionEvents(session, stream, gen, c.events)
		streamErr := waitForStream(stream, c.cfg.DrainTimeout)

		if session.isStopRequested() {
			return
		}
		if session.ctx.Err() != nil {
			go func() { _, _ = c.finish(session, false, nil, true) }()
			return
		}

		next, err := c.restart(session, streamErr)
		if err != nil {
			go func() { _, _ = c.finish(session, false, err, false) }()
			return
		}
		if next == nil {
			return
		}
	}
}

func (c *CaptureController) restart(session *recognitionSession, streamErr error) (ports.StreamingSession, error) {
	session.mu.Lock()
	restarts, transientUsed := session.restarts, session.transientUsed
	session.lastErr = streamErr
	session.mu.Unlock()

	if streamErr != nil {
		classified := classifyRecognitionErr(streamErr)
		if !domain.IsTransient(classified) || transientUsed >= c.cfg.TransientRetries {
			return nil, classified
		}
		session.mu.Lock()
		session.transientUsed++
		session.mu.Unlock()
	}
	if restarts >= c.cfg.MaxRestarts {
		return nil, domain.RecognitionError("", false, domain.ErrRestartBudgetExhausted)
	}

	session.aggregator.Seal()
	stream, err := c.provider.StartStreaming(session.ctx, c.cfg.Streaming)
	if err != nil {
		return nil, classifyRecognitionErr(err)
	}
	if !session.swap(stream) {
		_ = stream.Close()
		return nil, nil
	}

	c.log.Info("recognition restarted", "restarts", restarts+1, "after_error", streamErr != nil)
	c.events.SessionStateChanged(domain.SessionStateListening, domain.SessionReasonRecordingRestarted)
	return stream, nil
}

// finish tears a capture down exactly once: mic first, then the grace period,
// the send side, the drain and finally the guard.
func (c *CaptureController) finish(session *recognitionSession, manual bool, failure error, discard bool) (string, error) {
	session.stopOnce.Do(func() {
		session.requestStop()
		session.stopTimer()

		if err := session.stopMic(); err != nil {
			c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
		}

		if failure == nil && !discard && c.cfg.StreamingGrace > 0 {
			timer := time.NewTimer(c.cfg.StreamingGrace)
			select {
			case <-timer.C:
			case <-session.ctx.Done():
				timer.Stop()
			}
		}

		stream, _ := session.current()
		_ = stream.CloseSend()
		select {
		case <-session.superDone:
		case <-time.After(c.cfg.DrainTimeout):
			_ = stream.Close()
			session.cancel()
			<-session.superDone
		}
		<-session.audioDone

		session.markClosed()
		session.cancel()

		result := CaptureResult{Manual: manual, Err: failure}
		session.mu.Lock()
		result.Restarts = session.restarts
		session.mu.Unlock()
		if discard {
			result.Err = ErrCaptureAborted
		} else {
			result.Transcript = session.aggregator.Raw()
		}

		c.mu.Lock()
		if c.current == session {
			c.current = nil
		}
		c.mu.Unlock()
		c.guard.Release(ChannelCapture)

		session.final = result
		session.results <- result
		close(session.results)

		if failure != nil {
			c.log.Warn("capture failed", "err", failure)
		} else {
			c.log.Debug("capture stopped", "manual", manual, "discarded", discard, "chars", len(result.Transcript))
		}
	})

	if session.final.Err != nil && !errors.Is(session.final.Err, ErrCaptureAborted) {
		return session.final.Transcript, session.final.Err
	}
	return session.final.Transcript, nil
}

func classifyRecognitionErr(err error) error {
	var pe *domain.Error
	if errors.As(err, &pe) {
		return err
	}
	return domain.RecognitionError("", false, fmt.Errorf("recognition stream: %w", err))
}
