package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

var (
	ErrPlaybackLocked = errors.New("playback has not been unlocked")
	ErrInterrupted    = errors.New("playback interrupted")
)

type speakOptions struct {
	onStart func()
}

// SpeakOption customizes a single Speak call.
type SpeakOption func(*speakOptions)

// OnPlaybackStart runs fn once synthesis resolved and audio is about to play.
func OnPlaybackStart(fn func()) SpeakOption {
	return func(o *speakOptions) { o.onStart = fn }
}

// PlaybackController turns response text into audible output through a
// single output slot.
type PlaybackController struct {
	source ports.SpeechSource
	output ports.AudioOutput
	guard  *TurnGuard
	silent domain.AudioClip
	log    *slog.Logger

	slot chan struct{}

	unlockMu sync.Mutex
	unlocked bool

	mu        sync.Mutex
	interrupt context.CancelFunc
}

func NewPlaybackController(source ports.SpeechSource, output ports.AudioOutput, guard *TurnGuard, silent domain.AudioClip) *PlaybackController {
	if guard == nil {
		guard = NewTurnGuard()
	}
	return &PlaybackController{
		source: source,
		output: output,
		guard:  guard,
		silent: silent,
		log:    logging.Component("playback"),
		slot:   make(chan struct{}, 1),
	}
}

// UnlockPlayback pushes a silent clip through the output path. Only the first
// successful call has an effect.
func (p *PlaybackController) UnlockPlayback(ctx context.Context) error {
	p.unlockMu.Lock()
	defer p.unlockMu.Unlock()
	if p.unlocked {
		return nil
	}

	if err := p.guard.Acquire(ChannelPlayback); err != nil {
		return domain.NewError(domain.KindPlayback, "unlock playback", err)
	}
	defer p.guard.Release(ChannelPlayback)

	if err := p.play(ctx, p.silent); err != nil {
		return domain.NewError(domain.KindPlayback, "unlock playback", err)
	}
	p.unlocked = true
	p.log.Debug("playback unlocked")
	return nil
}

// Unlocked reports whether UnlockPlayback has succeeded.
func (p *PlaybackController) Unlocked() bool {
	p.unlockMu.Lock()
	defer p.unlockMu.Unlock()
	return p.unlocked
}

// Speak synthesizes text and plays it, returning when playback finishes.
// A concurrent call waits for the in-flight one; blank text is a no-op.
func (p *PlaybackController) Speak(ctx context.Context, text string, opts ...SpeakOption) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if !p.Unlocked() {
		return ErrPlaybackLocked
	}

	var options speakOptions
	for _, opt := range opts {
		opt(&options)
	}

	select {
	case p.slot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slot }()

	speakCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.interrupt = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.interrupt = nil
		p.mu.Unlock()
		cancel()
	}()

	clip, err := p.source.Speech(speakCtx, text)
	if err != nil {
		if speakCtx.Err() != nil {
			return p.cancelled(ctx)
		}
		if domain.KindOf(err) != "" {
			return err
		}
		return domain.NewError(domain.KindSynthesis, "speak", err)
	}
	if speakCtx.Err() != nil {
		return p.cancelled(ctx)
	}
	if clip.IsEmpty() {
		return nil
	}

	if err := p.guard.Acquire(ChannelPlayback); err != nil {
		return domain.NewError(domain.KindPlayback, "speak", err)
	}
	defer p.guard.Release(ChannelPlayback)

	if options.onStart != nil {
		options.onStart()
	}
	if err := p.play(speakCtx, clip); err != nil {
		if speakCtx.Err() != nil {
			return p.cancelled(ctx)
		}
		return domain.NewError(domain.KindPlayback, "speak", err)
	}
	return nil
}

// Interrupt cancels in-flight synthesis or playback; its result is discarded.
func (p *PlaybackController) Interrupt() {
	p.mu.Lock()
	cancel := p.interrupt
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *PlaybackController) play(ctx context.Context, clip domain.AudioClip) error {
	playable, err := p.output.Prepare(clip)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := playable.Release(); releaseErr != nil {
			p.log.Warn("failed to release playback resource", "err", releaseErr)
		}
	}()
	return playable.Play(ctx)
}

func (p *PlaybackController) cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return ErrInterrupted
}
