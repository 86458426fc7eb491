package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	speech "google.golang.org/api/speech/v1"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

var _ ports.SpeechToText = (*SpeechToText)(nil)

const (
	DefaultRecognitionEncoding = "LINEAR16"
	DefaultRecognitionLanguage = "en-US"
)

// SpeechToText transcribes whole clips with Cloud Speech v1.
type SpeechToText struct {
	svc *speech.Service
	log *slog.Logger
}

func NewSpeechToText(ctx context.Context, opts ...option.ClientOption) (*SpeechToText, error) {
	svc, err := speech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	return &SpeechToText{svc: svc, log: logging.Component("google-stt")}, nil
}

// Recognize returns the top alternative of every result, joined with a
// newline in provider order. Failures are not retried here.
func (s *SpeechToText) Recognize(ctx context.Context, clip domain.AudioClip, cfg ports.RecognitionConfig) (string, error) {
	data, err := clip.Bytes()
	if err != nil {
		return "", domain.NewError(domain.KindTranscription, "recognize clip", err)
	}
	if len(data) == 0 {
		return "", domain.NewError(domain.KindTranscription, "recognize clip", errors.New("empty clip"))
	}

	if cfg.Encoding == "" {
		cfg.Encoding = DefaultRecognitionEncoding
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultRecognitionLanguage
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = clip.Format().SampleRate
	}

	req := &speech.RecognizeRequest{
		Config: &speech.RecognitionConfig{
			Encoding:        cfg.Encoding,
			LanguageCode:    cfg.LanguageCode,
			SampleRateHertz: int64(cfg.SampleRate),
		},
		Audio: &speech.RecognitionAudio{Content: base64.StdEncoding.EncodeToString(data)},
	}

	resp, err := s.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		s.log.Warn("recognition failed", "bytes", len(data), "err", err)
		return "", domain.NewError(domain.KindTranscription, "recognize clip", err)
	}

	lines := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		if result == nil || len(result.Alternatives) == 0 || result.Alternatives[0] == nil {
			continue
		}
		lines = append(lines, result.Alternatives[0].Transcript)
	}
	transcript := strings.Join(lines, "\n")
	s.log.Debug("recognized clip", "results", len(lines), "chars", len(transcript))
	return transcript, nil
}
