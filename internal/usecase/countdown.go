package usecase

import (
	"sync"
	"time"
)

// countdown is the per-turn budget timer. It ticks onTick at every interval
// and calls onExpire once when the budget runs out, unless stopped first.
type countdown struct {
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func startCountdown(budget, interval time.Duration, onTick func(time.Duration), onExpire func()) *countdown {
	if interval <= 0 {
		interval = time.Second
	}
	c := &countdown{stop: make(chan struct{}), done: make(chan struct{})}

	go func() {
		defer close(c.done)

		deadline := time.Now().Add(budget)
		timer := time.NewTimer(budget)
		ticker := time.NewTicker(interval)
		defer timer.Stop()
		defer ticker.Stop()

		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				if onTick != nil {
					remaining := time.Until(deadline)
					if remaining < 0 {
						remaining = 0
					}
					onTick(remaining.Round(interval))
				}
			case <-timer.C:
				if onTick != nil {
					onTick(0)
				}
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}()

	return c
}

// Stop cancels the countdown and waits for its goroutine to exit.
// It must not be called from onTick or onExpire.
func (c *countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}
