// Package transcode converts uploaded browser recordings into the linear PCM
// clips the speech-to-text adapter expects.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/internal/domain"
	"parley/internal/logging"
)

const (
	convertedSuffix = "_converted.wav"
	fallbackExt     = ".webm"
	targetRate      = 16000
	targetChannels  = 1
)

var whitespace = regexp.MustCompile(`\s+`)

type Config struct {
	Command   string
	UploadDir string
	// InputFormat is passed to ffmpeg with -f when the clip does not carry
	// its own container tag.
	InputFormat string
}

// Result is delivered by Submit.
type Result struct {
	Clip domain.AudioClip
	Err  error
}

// Service runs one ffmpeg process per request and keeps no state between
// requests.
type Service struct {
	command     string
	uploadDir   string
	inputFormat string
	now         func() time.Time
	log         *slog.Logger
}

func New(cfg Config) *Service {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(os.TempDir(), "parley-uploads")
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = domain.ContainerWebM
	}
	return &Service{
		command:     cfg.Command,
		uploadDir:   cfg.UploadDir,
		inputFormat: cfg.InputFormat,
		now:         time.Now,
		log:         logging.Component("transcode"),
	}
}

// UploadName builds a collision-free file name for an upload, keeping the
// original base name and extension.
func (s *Service) UploadName(original string) string {
	original = filepath.Base(strings.TrimSpace(original))
	if original == "." || original == string(filepath.Separator) {
		original = ""
	}
	ext := filepath.Ext(original)
	base := strings.TrimSuffix(original, ext)
	if ext == "" {
		ext = fallbackExt
	}
	base = whitespace.ReplaceAllString(base, "_")
	if base == "" {
		base = "audio"
	}
	return strconv.FormatInt(s.now().UnixMilli(), 10) + "-" + uuid.NewString() + "-" + base + ext
}

// Store writes an upload into the upload directory.
func (s *Service) Store(original string, body io.Reader, format domain.AudioFormat) (domain.AudioClip, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return domain.NoAudio, fmt.Errorf("failed to create upload dir: %w", err)
	}
	path := filepath.Join(s.uploadDir, s.UploadName(original))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return domain.NoAudio, fmt.Errorf("failed to store upload: %w", err)
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return domain.NoAudio, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return domain.NoAudio, fmt.Errorf("failed to store upload: %w", err)
	}
	s.log.Info("upload stored", "path", path)
	return domain.ClipFromFile(path, format), nil
}

// Transcode converts clip to 16 kHz mono pcm_s16le WAV next to its source.
// In-memory clips are stored first. On failure the partial output is removed,
// and so is the source when it lives in the upload directory.
func (s *Service) Transcode(ctx context.Context, clip domain.AudioClip) (domain.AudioClip, error) {
	if clip.IsEmpty() {
		return domain.NoAudio, domain.NewError(domain.KindTranscode, "transcode", errors.New("empty clip"))
	}
	if clip.Path() == "" {
		src, err := clip.Open()
		if err != nil {
			return domain.NoAudio, domain.NewError(domain.KindTranscode, "transcode", err)
		}
		stored, err := s.Store("clip", src, clip.Format())
		_ = src.Close()
		if err != nil {
			return domain.NoAudio, domain.NewError(domain.KindTranscode, "transcode", err)
		}
		clip = stored
	}

	input := clip.Path()
	output := input + convertedSuffix
	args := []string{"-nostdin", "-hide_banner", "-loglevel", "error", "-y"}
	args = append(args, s.inputArgs(clip.Format())...)
	args = append(args,
		"-i", input,
		"-ac", strconv.Itoa(targetChannels),
		"-ar", strconv.Itoa(targetRate),
		"-c:a", domain.CodecPCMS16LE,
		output,
	)

	started := s.now()
	cmd := exec.CommandContext(ctx, s.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if s.stored(input) {
			_ = os.Remove(input)
		}
		detail := strings.TrimSpace(stderr.String())
		s.log.Warn("conversion failed", "input", input, "err", err, "stderr", detail)
		if detail != "" {
			err = fmt.Errorf("ffmpeg: %w: %s", err, detail)
		} else {
			err = fmt.Errorf("ffmpeg: %w", err)
		}
		return domain.NoAudio, domain.NewError(domain.KindTranscode, "transcode", err)
	}

	s.log.Info("conversion succeeded", "output", output, "elapsed", s.now().Sub(started))
	return domain.ClipFromFile(output, domain.LinearPCM(targetRate, targetChannels)), nil
}

// Submit runs Transcode in the background. The channel receives exactly one
// result and is then closed.
func (s *Service) Submit(ctx context.Context, clip domain.AudioClip) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		converted, err := s.Transcode(ctx, clip)
		out <- Result{Clip: converted, Err: err}
	}()
	return out
}

// stored reports whether path was written into the upload directory by Store.
func (s *Service) stored(path string) bool {
	rel, err := filepath.Rel(s.uploadDir, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// inputArgs declares the source format explicitly; upload names carry no
// reliable extension.
func (s *Service) inputArgs(format domain.AudioFormat) []string {
	switch format.Container {
	case domain.ContainerRaw:
		rate, channels := format.SampleRate, format.Channels
		if rate <= 0 {
			rate = targetRate
		}
		if channels <= 0 {
			channels = targetChannels
		}
		return []string{"-f", format.Container, "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(channels)}
	case domain.ContainerWebM, domain.ContainerWAV, domain.ContainerMP3:
		return []string{"-f", format.Container}
	default:
		return []string{"-f", s.inputFormat}
	}
}
