package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"parley/internal/domain"
)

func newTestCapture(mic *fakeAudioCapture, provider *fakeProvider, guard *TurnGuard, events *fakeEventSink, cfg CaptureConfig) *CaptureController {
	if cfg.TurnBudget == 0 {
		cfg.TurnBudget = time.Minute
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 10 * time.Millisecond
	}
	return NewCaptureController(mic, provider, guard, events, cfg)
}

func TestCaptureStartStopReturnsTranscript(t *testing.T) {
	t.Parallel()

	mic := &fakeAudioCapture{}
	stream := newFakeStreamingSession(partialEvent("hello"), finalEvent("hello there"))
	guard := NewTurnGuard()
	controller := newTestCapture(mic, &fakeProvider{sessions: []*fakeStreamingSession{stream}}, guard, &fakeEventSink{}, CaptureConfig{})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if guard.Holder() != ChannelCapture {
		t.Fatalf("expected capture to hold the guard")
	}
	waitFor(t, "events drained", func() bool { return len(stream.events) == 0 })

	transcript, err := controller.StopCapture(true)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if transcript != "hello there" {
		t.Fatalf("unexpected transcript: %q", transcript)
	}

	result := receive(t, results)
	if result.Transcript != "hello there" || !result.Manual || result.Err != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if guard.Holder() != "" {
		t.Fatalf("expected guard to be released")
	}
	if mic.openCount() != 0 {
		t.Fatalf("expected microphone released")
	}
	if stream.closeSend == 0 {
		t.Fatalf("expected send side closed")
	}
}

func TestCaptureStopTwiceIsNoop(t *testing.T) {
	t.Parallel()

	session := &fakeAudioSession{}
	mic := &fakeAudioCapture{sessions: []*fakeAudioSession{session}}
	stream := newFakeStreamingSession(finalEvent("once"))
	controller := newTestCapture(mic, &fakeProvider{sessions: []*fakeStreamingSession{stream}}, nil, &fakeEventSink{}, CaptureConfig{})

	if _, err := controller.StartCapture(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.StopCapture(true); err != nil {
		t.Fatalf("first stop failed: %v", err)
	}
	transcript, err := controller.StopCapture(true)
	if err != nil || transcript != "" {
		t.Fatalf("expected no-op second stop, got %q, %v", transcript, err)
	}
	if session.stops() != 1 {
		t.Fatalf("expected microphone stopped once, got %d", session.stops())
	}
}

func TestCaptureCountdownExpiryStopsAutomatically(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	stream := newFakeStreamingSession(finalEvent("hello there"))
	controller := newTestCapture(&fakeAudioCapture{}, &fakeProvider{sessions: []*fakeStreamingSession{stream}}, nil, events, CaptureConfig{
		TurnBudget:   30 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
	})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	result := receive(t, results)
	if result.Manual {
		t.Fatalf("expected countdown stop, got manual")
	}
	if result.Transcript != "hello there" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
	if controller.Active() {
		t.Fatalf("expected capture to be disarmed")
	}

	events.mu.Lock()
	ticks := append([]time.Duration(nil), events.countdowns...)
	events.mu.Unlock()
	if len(ticks) == 0 || ticks[len(ticks)-1] != 0 {
		t.Fatalf("expected countdown ticks ending at zero, got %v", ticks)
	}
}

func TestCaptureAutoRestartPreservesTranscript(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	first := newFakeStreamingSession(finalEvent("hello"))
	second := newFakeStreamingSession(partialEvent("there"))
	provider := &fakeProvider{sessions: []*fakeStreamingSession{first, second}}
	controller := newTestCapture(&fakeAudioCapture{}, provider, nil, events, CaptureConfig{MaxRestarts: 3})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	waitFor(t, "first final consumed", func() bool { return len(first.events) == 0 })
	first.end(nil)

	waitFor(t, "partial from restarted stream", func() bool {
		partials := events.snapshotPartials()
		return len(partials) > 0 && partials[len(partials)-1] == "there"
	})

	transcript, err := controller.StopCapture(true)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if transcript != "hello there" {
		t.Fatalf("expected transcript preserved across restart, got %q", transcript)
	}
	result := receive(t, results)
	if result.Restarts != 1 {
		t.Fatalf("expected one restart, got %d", result.Restarts)
	}
	if !events.sawState(domain.SessionStateListening, domain.SessionReasonRecordingRestarted) {
		t.Fatalf("expected restart event")
	}
}

func TestCaptureTerminalErrorStopsAndReleases(t *testing.T) {
	t.Parallel()

	mic := &fakeAudioCapture{}
	guard := NewTurnGuard()
	stream := newFakeStreamingSession()
	provider := &fakeProvider{sessions: []*fakeStreamingSession{stream}}
	controller := newTestCapture(mic, provider, guard, &fakeEventSink{}, CaptureConfig{MaxRestarts: 5, TransientRetries: 1})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.end(domain.RecognitionError("AUTH-0001", false, errors.New("bad credentials")))

	result := receive(t, results)
	if !errors.Is(result.Err, domain.ErrRecognition) {
		t.Fatalf("expected recognition error, got %v", result.Err)
	}
	var pe *domain.Error
	if !errors.As(result.Err, &pe) || pe.Reason != "AUTH-0001" {
		t.Fatalf("expected provider reason code, got %v", result.Err)
	}
	if provider.callCount() != 1 {
		t.Fatalf("terminal errors must not restart, got %d streams", provider.callCount())
	}
	waitFor(t, "guard released", func() bool { return guard.Holder() == "" })
	if mic.openCount() != 0 {
		t.Fatalf("expected microphone released")
	}
}

func TestCaptureTransientErrorRetriedOnceThenTerminal(t *testing.T) {
	t.Parallel()

	first := newFakeStreamingSession()
	second := newFakeStreamingSession()
	provider := &fakeProvider{sessions: []*fakeStreamingSession{first, second}}
	controller := newTestCapture(&fakeAudioCapture{}, provider, nil, &fakeEventSink{}, CaptureConfig{MaxRestarts: 5, TransientRetries: 1})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	first.end(domain.RecognitionError("NET-0001", true, errors.New("network")))
	waitFor(t, "restart", func() bool { return provider.callCount() == 2 })
	second.end(domain.RecognitionError("NET-0001", true, errors.New("network")))

	result := receive(t, results)
	if !errors.Is(result.Err, domain.ErrRecognition) {
		t.Fatalf("expected recognition error, got %v", result.Err)
	}
	if provider.callCount() != 2 {
		t.Fatalf("expected exactly one retry, got %d streams", provider.callCount())
	}
}

func TestCaptureRestartBudgetIsBounded(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{factory: func() *fakeStreamingSession {
		s := newFakeStreamingSession()
		s.end(nil)
		return s
	}}
	controller := newTestCapture(&fakeAudioCapture{}, provider, nil, &fakeEventSink{}, CaptureConfig{MaxRestarts: 2})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	result := receive(t, results)
	if !errors.Is(result.Err, domain.ErrRestartBudgetExhausted) {
		t.Fatalf("expected exhausted budget, got %v", result.Err)
	}
	if provider.callCount() != 3 {
		t.Fatalf("expected initial stream plus two restarts, got %d", provider.callCount())
	}
}

func TestCaptureMicrophoneFailureIsPermissionDenied(t *testing.T) {
	t.Parallel()

	guard := NewTurnGuard()
	controller := newTestCapture(&fakeAudioCapture{err: errors.New("no input device")}, &fakeProvider{}, guard, &fakeEventSink{}, CaptureConfig{})

	_, err := controller.StartCapture(context.Background())
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if guard.Holder() != "" {
		t.Fatalf("guard must be released on failure")
	}
}

func TestCaptureRefusesSecondStartAndBusyGuard(t *testing.T) {
	t.Parallel()

	guard := NewTurnGuard()
	provider := &fakeProvider{factory: func() *fakeStreamingSession { return newFakeStreamingSession() }}
	controller := newTestCapture(&fakeAudioCapture{}, provider, guard, &fakeEventSink{}, CaptureConfig{})

	if _, err := controller.StartCapture(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := controller.StartCapture(context.Background()); !errors.Is(err, ErrCaptureActive) {
		t.Fatalf("expected ErrCaptureActive, got %v", err)
	}
	if err := controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}

	if err := guard.Acquire(ChannelPlayback); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := controller.StartCapture(context.Background()); !errors.Is(err, ErrChannelBusy) {
		t.Fatalf("expected ErrChannelBusy while playing, got %v", err)
	}
}

func TestCaptureAbortDiscardsTranscript(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession(finalEvent("secret"))
	controller := newTestCapture(&fakeAudioCapture{}, &fakeProvider{sessions: []*fakeStreamingSession{stream}}, nil, &fakeEventSink{}, CaptureConfig{})

	results, err := controller.StartCapture(context.Background())
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := controller.Abort(); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	result := receive(t, results)
	if result.Transcript != "" || !errors.Is(result.Err, ErrCaptureAborted) {
		t.Fatalf("unexpected aborted result: %+v", result)
	}
	if err := controller.Abort(); !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestRecognitionSessionDiscardsStaleGenerations(t *testing.T) {
	t.Parallel()

	session := &recognitionSession{generation: 2}
	if session.accepts(1) {
		t.Fatalf("superseded stream events must be discarded")
	}
	if !session.accepts(2) {
		t.Fatalf("current stream events must be accepted")
	}
	session.markClosed()
	if session.accepts(2) {
		t.Fatalf("events after stop must be discarded")
	}
}
