package usecase

import (
	"errors"
	"fmt"
	"sync"
)

// Channel names the half of the audio device a stage wants.
type Channel string

const (
	ChannelCapture  Channel = "capture"
	ChannelPlayback Channel = "playback"
)

var (
	ErrChannelBusy    = errors.New("audio channel busy")
	ErrGuardSuspended = errors.New("audio is suspended while the session is paused")
	errUnknownChannel = errors.New("unknown audio channel")
)

// TurnGuard grants the microphone or the speaker, never both.
type TurnGuard struct {
	mu        sync.Mutex
	holder    Channel
	suspended bool
}

func NewTurnGuard() *TurnGuard {
	return &TurnGuard{}
}

// Acquire takes the channel or fails immediately.
func (g *TurnGuard) Acquire(ch Channel) error {
	if ch != ChannelCapture && ch != ChannelPlayback {
		return errUnknownChannel
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suspended {
		return ErrGuardSuspended
	}
	if g.holder != "" {
		return fmt.Errorf("%w: held by %s", ErrChannelBusy, g.holder)
	}
	g.holder = ch
	return nil
}

// Release frees ch if it is the current holder.
func (g *TurnGuard) Release(ch Channel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.holder == ch {
		g.holder = ""
	}
}

// Holder returns the channel currently granted, or "".
func (g *TurnGuard) Holder() Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.holder
}

// Suspend refuses every new Acquire until Unsuspend.
func (g *TurnGuard) Suspend() {
	g.mu.Lock()
	g.suspended = true
	g.mu.Unlock()
}

func (g *TurnGuard) Unsuspend() {
	g.mu.Lock()
	g.suspended = false
	g.mu.Unlock()
}
