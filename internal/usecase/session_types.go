package usecase

import (
	"context"
	"sync"

	"parley/internal/ports"
)

// CaptureResult is published once per capture on the StartCapture channel.
type CaptureResult struct {
	Transcript string
	Manual     bool
	Restarts   int
	Err        error
}

// recognitionSession is one armed capture: the mic, the current stream and
// the transcript accumulated across restarts.
type recognitionSession struct {
	cancel context.CancelFunc
	ctx    context.Context
	audio  ports.AudioSession

	aggregator *transcriptAggregator
	timer      *countdown
	results    chan CaptureResult

	superDone chan struct{}
	audioDone chan struct{}

	mu            sync.Mutex
	stream        ports.StreamingSession
	generation    int
	restarts      int
	transientUsed int
	lastErr       error
	stopRequested bool
	closed        bool

	micOnce  sync.Once
	micErr   error
	stopOnce sync.Once
	final    CaptureResult
}

func (s *recognitionSession) current() (ports.StreamingSession, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream, s.generation
}

// accepts reports whether events of generation gen may still be recorded.
func (s *recognitionSession) accepts(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.generation
}

func (s *recognitionSession) requestStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

func (s *recognitionSession) isStopRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopRequested
}

func (s *recognitionSession) stopTimer() {
	s.mu.Lock()
	timer := s.timer
	s.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (s *recognitionSession) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// swap installs a restarted stream unless a stop raced ahead of it.
func (s *recognitionSession) swap(stream ports.StreamingSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopRequested {
		return false
	}
	s.stream = stream
	s.generation++
	s.restarts++
	return true
}

// send forwards a chunk to whichever stream is current. Chunks that land in a
// restart gap are dropped.
func (s *recognitionSession) send(chunk []byte) error {
	s.mu.Lock()
	stream, closed := s.stream, s.closed || s.stopRequested
	s.mu.Unlock()
	if closed || stream == nil {
		return nil
	}
	return stream.SendAudio(chunk)
}

func (s *recognitionSession) stopMic() error {
	s.micOnce.Do(func() {
		s.micErr = s.audio.Stop()
	})
	return s.micErr
}
