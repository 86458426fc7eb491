package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []*fakeAudioSession
	err      error
	calls    int
	open     int
	onStart  func()
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.onStart != nil {
		f.onStart()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var session *fakeAudioSession
	if f.calls < len(f.sessions) {
		session = f.sessions[f.calls]
	} else {
		session = &fakeAudioSession{chunks: [][]byte{[]byte("pcm")}}
	}
	session.owner = f
	f.calls++
	f.open++
	return session, nil
}

func (f *fakeAudioCapture) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeAudioCapture) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeAudioSession yields its chunks and then blocks until stopped, like a
// live microphone.
type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
	stopped   chan struct{}
	owner     *fakeAudioCapture
	once      sync.Once
}

func (f *fakeAudioSession) init() {
	f.once.Do(func() { f.stopped = make(chan struct{}) })
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.init()
	f.mu.Lock()
	if f.index < len(f.chunks) {
		n := copy(p, f.chunks[f.index])
		f.index++
		f.mu.Unlock()
		return n, nil
	}
	f.mu.Unlock()
	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) Stop() error {
	f.init()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopCalls == 1 {
		close(f.stopped)
		if f.owner != nil {
			f.owner.mu.Lock()
			f.owner.open--
			f.owner.mu.Unlock()
		}
	}
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions []*fakeStreamingSession
	factory  func() *fakeStreamingSession
	err      error
	calls    int
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.calls++
	if f.calls <= len(f.sessions) {
		return f.sessions[f.calls-1], nil
	}
	if f.factory != nil {
		return f.factory(), nil
	}
	return nil, errors.New("no stream session configured")
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStreamingSession struct {
	mu         sync.Mutex
	events     chan domain.TranscriptEvent
	done       chan struct{}
	waitErr    error
	closeSend  int
	closeCalls int
	closed     bool
}

func newFakeStreamingSession(events ...domain.TranscriptEvent) *fakeStreamingSession {
	s := &fakeStreamingSession{
		events: make(chan domain.TranscriptEvent, 16),
		done:   make(chan struct{}),
	}
	for _, event := range events {
		s.events <- event
	}
	return s
}

func finalEvent(text string) domain.TranscriptEvent {
	return domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: text}
}

func partialEvent(text string) domain.TranscriptEvent {
	return domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text}
}

func (f *fakeStreamingSession) SendAudio(_ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("stream closed")
	}
	return nil
}

// end simulates the provider closing the stream on its own.
func (f *fakeStreamingSession) end(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.waitErr == nil {
		f.waitErr = err
	}
	f.closeLocked()
}

func (f *fakeStreamingSession) closeLocked() {
	if !f.closed {
		f.closed = true
		close(f.events)
		close(f.done)
	}
}

func (f *fakeStreamingSession) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeSend++
	f.closeLocked()
	return nil
}

func (f *fakeStreamingSession) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStreamingSession) Wait() error {
	<-f.done
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeStreamingSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.closeLocked()
	return nil
}

type fakeRules struct {
	transform string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform != "" {
		return f.transform, nil
	}
	return text, nil
}

type fakeEventSink struct {
	mu sync.Mutex

	states     []stateEvent
	finals     []finalRecord
	partials   []string
	errors     []errEvent
	turns      []domain.Turn
	countdowns []time.Duration
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type finalRecord struct {
	raw         string
	transformed string
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) PartialTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partials = append(f.partials, text)
}

func (f *fakeEventSink) FinalTranscript(raw string, transformed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finals = append(f.finals, finalRecord{raw: raw, transformed: transformed})
}

func (f *fakeEventSink) Countdown(remaining time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countdowns = append(f.countdowns, remaining)
}

func (f *fakeEventSink) TurnClosed(turn domain.Turn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = append(f.turns, turn)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) snapshotFinals() []finalRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]finalRecord, len(f.finals))
	copy(out, f.finals)
	return out
}

func (f *fakeEventSink) snapshotPartials() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.partials...)
}

func (f *fakeEventSink) snapshotTurns() []domain.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Turn(nil), f.turns...)
}

func (f *fakeEventSink) sawState(state domain.SessionState, reason domain.SessionStateReason) bool {
	for _, s := range f.snapshotStates() {
		if s.state == state && s.reason == reason {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func receive(t *testing.T, results <-chan CaptureResult) CaptureResult {
	t.Helper()
	select {
	case result := <-results:
		return result
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for capture result")
		return CaptureResult{}
	}
}
