package google

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

const (
	DefaultVoiceLanguage = "en-IN"
	DefaultVoiceName     = "en-IN-Chirp3-HD-Leda"
	DefaultEncoding      = "MP3"
)

var (
	_ ports.TextToSpeech = (*TextToSpeech)(nil)
	_ ports.SpeechSource = (*TextToSpeech)(nil)
)

// TextToSpeech synthesizes speech with Cloud Text-to-Speech v1.
type TextToSpeech struct {
	svc      *texttospeech.Service
	voice    ports.Voice
	encoding string
	log      *slog.Logger
}

func NewTextToSpeech(ctx context.Context, voice ports.Voice, encoding string, opts ...option.ClientOption) (*TextToSpeech, error) {
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	if voice.LanguageCode == "" {
		voice.LanguageCode = DefaultVoiceLanguage
	}
	if voice.Name == "" {
		voice.Name = DefaultVoiceName
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TextToSpeech{svc: svc, voice: voice, encoding: encoding, log: logging.Component("google-tts")}, nil
}

// Speech synthesizes text with the configured voice and encoding.
func (t *TextToSpeech) Speech(ctx context.Context, text string) (domain.AudioClip, error) {
	return t.Synthesize(ctx, text, t.voice, t.encoding)
}

// Synthesize returns NoAudio for blank text without calling the provider.
func (t *TextToSpeech) Synthesize(ctx context.Context, text string, voice ports.Voice, encoding string) (domain.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return domain.NoAudio, nil
	}
	if encoding == "" {
		encoding = t.encoding
	}

	req := &texttospeech.SynthesizeSpeechRequest{
		Input:       &texttospeech.SynthesisInput{Text: text},
		Voice:       &texttospeech.VoiceSelectionParams{LanguageCode: voice.LanguageCode, Name: voice.Name},
		AudioConfig: &texttospeech.AudioConfig{AudioEncoding: encoding},
	}
	resp, err := t.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		t.log.Warn("synthesis failed", "voice", voice.Name, "err", err)
		return domain.NoAudio, domain.NewError(domain.KindSynthesis, "synthesize speech", err)
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return domain.NoAudio, domain.NewError(domain.KindSynthesis, "synthesize speech", fmt.Errorf("invalid audio content: %w", err))
	}
	t.log.Debug("synthesized speech", "voice", voice.Name, "bytes", len(audio))
	return domain.NewClip(audio, formatFor(encoding)), nil
}

func formatFor(encoding string) domain.AudioFormat {
	switch strings.ToUpper(encoding) {
	case "LINEAR16":
		return domain.LinearPCM(24000, 1)
	case "OGG_OPUS":
		return domain.AudioFormat{Container: "ogg", Codec: domain.CodecOpus}
	default:
		return domain.AudioFormat{Container: domain.ContainerMP3, Codec: domain.CodecMP3}
	}
}
