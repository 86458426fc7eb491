package usecase

import (
	"sync"
	"time"

	"parley/internal/domain"
)

// SessionClock tracks allotted against elapsed conversation time.
// Only the Coordinator mutates it.
type SessionClock struct {
	mu sync.Mutex

	now      func() time.Time
	allotted time.Duration
	elapsed  time.Duration
	since    time.Time
	phase    domain.ClockPhase
	before   domain.ClockPhase

	timer   *time.Timer
	expired chan struct{}
	fired   bool
}

func NewSessionClock(allotted time.Duration) *SessionClock {
	return newSessionClock(allotted, time.Now)
}

func newSessionClock(allotted time.Duration, now func() time.Time) *SessionClock {
	return &SessionClock{
		now:      now,
		allotted: allotted,
		phase:    domain.ClockPhaseUnlock,
		expired:  make(chan struct{}),
	}
}

// Start moves the clock from unlock to active.
func (c *SessionClock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.ClockPhaseUnlock {
		return
	}
	c.phase = domain.ClockPhaseActive
	c.since = c.now()
	c.armLocked()
}

func (c *SessionClock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.ClockPhaseActive {
		return
	}
	c.accumulateLocked()
	c.disarmLocked()
	c.phase = domain.ClockPhasePaused
}

func (c *SessionClock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.ClockPhasePaused {
		return
	}
	c.phase = domain.ClockPhaseActive
	c.since = c.now()
	c.armLocked()
}

// BeginExtend marks an extension request in flight.
func (c *SessionClock) BeginExtend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.ClockPhaseActive && c.phase != domain.ClockPhasePaused {
		return
	}
	c.before = c.phase
	c.phase = domain.ClockPhaseExtending
}

// EndExtend closes an extension request, adding extra when it succeeded.
func (c *SessionClock) EndExtend(extra time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != domain.ClockPhaseExtending {
		return
	}
	c.phase = c.before
	if extra > 0 {
		c.allotted += extra
		if c.fired && c.remainingLocked() > 0 {
			c.expired = make(chan struct{})
			c.fired = false
		}
	}
	if c.phase == domain.ClockPhaseActive {
		c.disarmLocked()
		c.armLocked()
	}
}

func (c *SessionClock) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == domain.ClockPhaseActive {
		c.accumulateLocked()
	}
	c.disarmLocked()
	c.phase = domain.ClockPhaseCompleted
}

func (c *SessionClock) Phase() domain.ClockPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *SessionClock) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

// Expired is closed once the allotted time is used up.
func (c *SessionClock) Expired() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expired
}

// IsExpired is the non-blocking form of Expired.
func (c *SessionClock) IsExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

func (c *SessionClock) remainingLocked() time.Duration {
	used := c.elapsed
	if c.phase == domain.ClockPhaseActive || (c.phase == domain.ClockPhaseExtending && c.before == domain.ClockPhaseActive) {
		used += c.now().Sub(c.since)
	}
	if remaining := c.allotted - used; remaining > 0 {
		return remaining
	}
	return 0
}

func (c *SessionClock) accumulateLocked() {
	c.elapsed += c.now().Sub(c.since)
}

func (c *SessionClock) armLocked() {
	remaining := c.remainingLocked()
	if remaining <= 0 {
		c.fireLocked()
		return
	}
	c.timer = time.AfterFunc(remaining, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.phase == domain.ClockPhaseActive && c.remainingLocked() <= 0 {
			c.fireLocked()
		}
	})
}

func (c *SessionClock) disarmLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *SessionClock) fireLocked() {
	if c.fired {
		return
	}
	c.fired = true
	close(c.expired)
}
