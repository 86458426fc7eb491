package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

// Speaker plays clips on the default output device through ffplay.
type Speaker struct {
	command string
	tempDir string
	log     *slog.Logger
}

func NewSpeaker(command string) *Speaker {
	if command == "" {
		command = "ffplay"
	}
	return &Speaker{command: command, log: logging.Component("speaker")}
}

// Prepare stages the clip on disk. In-memory clips are written to a temp file
// owned by the returned Playable.
func (s *Speaker) Prepare(clip domain.AudioClip) (ports.Playable, error) {
	if clip.IsEmpty() {
		return nil, errors.New("cannot play an empty clip")
	}
	if path := clip.Path(); path != "" {
		return &filePlayable{speaker: s, path: path, format: clip.Format()}, nil
	}

	file, err := os.CreateTemp(s.tempDir, "parley-*"+extensionFor(clip.Format()))
	if err != nil {
		return nil, fmt.Errorf("failed to stage clip: %w", err)
	}
	src, err := clip.Open()
	if err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, err
	}
	defer src.Close()

	if _, err := io.Copy(file, src); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("failed to stage clip: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return nil, fmt.Errorf("failed to stage clip: %w", err)
	}
	return &filePlayable{speaker: s, path: file.Name(), format: clip.Format(), owned: true}, nil
}

func (s *Speaker) args(path string, format domain.AudioFormat) []string {
	args := []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error"}
	if format.Container == domain.ContainerRaw {
		rate, channels := format.SampleRate, format.Channels
		if rate <= 0 {
			rate = 16000
		}
		if channels <= 0 {
			channels = 1
		}
		args = append(args, "-f", "s16le", "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(channels))
	}
	return append(args, path)
}

type filePlayable struct {
	speaker *Speaker
	path    string
	format  domain.AudioFormat
	owned   bool

	releaseOnce sync.Once
	releaseErr  error
}

// Play blocks until the clip finishes or ctx is cancelled.
func (p *filePlayable) Play(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.speaker.command, p.speaker.args(p.path, p.format)...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		if out := trimOutput(stderr.String()); out != "" {
			return fmt.Errorf("ffplay failed: %w: %s", err, out)
		}
		return fmt.Errorf("ffplay failed: %w", err)
	}
	return nil
}

func (p *filePlayable) Release() error {
	p.releaseOnce.Do(func() {
		if !p.owned {
			return
		}
		if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.releaseErr = err
			return
		}
		p.speaker.log.Debug("released staged clip", "path", p.path)
	})
	return p.releaseErr
}

func extensionFor(format domain.AudioFormat) string {
	switch format.Container {
	case domain.ContainerWebM:
		return ".webm"
	case domain.ContainerWAV:
		return ".wav"
	case domain.ContainerMP3:
		return ".mp3"
	default:
		return ".pcm"
	}
}
