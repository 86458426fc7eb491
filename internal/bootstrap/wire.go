package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
	"parley/internal/providers/deepgram"
	"parley/internal/providers/google"
	"parley/internal/remote"
	"parley/internal/rules"
	"parley/internal/server"
	"parley/internal/transcode"
	"parley/internal/usecase"
)

// Client is the assembled conversation client graph.
type Client struct {
	Coordinator *usecase.Coordinator
	Config      config.Config
}

// BuildClient loads configuration and wires the conversation client.
func BuildClient(eventSink ports.EventSink) (Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return Client{}, err
	}
	logging.Init(cfg.LogLevel)
	return BuildClientFromConfig(cfg, eventSink)
}

// BuildClientFromConfig wires the conversation client. Missing credentials or
// media binaries fail here rather than on the first turn.
func BuildClientFromConfig(cfg config.Config, eventSink ports.EventSink) (Client, error) {
	if strings.TrimSpace(cfg.Deepgram.APIKey) == "" {
		return Client{}, unsupported("recognition", errors.New("DEEPGRAM_API_KEY is not set"))
	}
	if err := requireCommand(cfg.Audio.RecorderCommand); err != nil {
		return Client{}, err
	}
	if err := requireCommand(cfg.Audio.PlayerCommand); err != nil {
		return Client{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Client{}, err
	}

	backend := func(baseURL string) remote.Options {
		return remote.Options{BaseURL: baseURL, Token: cfg.Backend.Token, Timeout: cfg.Backend.Timeout}
	}

	guard := usecase.NewTurnGuard()
	capture := usecase.NewCaptureController(
		audio.NewMicrophone(cfg.Audio.RecorderCommand),
		deepgram.NewProvider(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			KeepAlive:   cfg.Deepgram.KeepAlive,
		}),
		guard,
		eventSink,
		usecase.CaptureConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
			},
			ChunkSize:        cfg.Session.ChunkSize,
			StreamingGrace:   cfg.Session.StreamingGrace,
			TurnBudget:       cfg.Session.TurnBudget,
			TickInterval:     cfg.Session.TickInterval,
			MaxRestarts:      cfg.Session.MaxRestarts,
			TransientRetries: cfg.Session.TransientRetries,
		},
	)
	playback := usecase.NewPlaybackController(
		remote.NewSynthesisClient(backend(cfg.Backend.SynthesisURL)),
		audio.NewSpeaker(cfg.Audio.PlayerCommand),
		guard,
		audio.SilentClip(),
	)
	coordinator := usecase.NewCoordinator(
		capture,
		playback,
		remote.NewExchangeClient(backend(cfg.Backend.PromptURL)),
		remote.NewLifecycleClient(backend(cfg.Backend.LifecycleURL)),
		rulesEngine,
		guard,
		eventSink,
		usecase.CoordinatorConfig{
			MaxRecognitionFailures: cfg.Session.MaxRecognitionFailures,
			DefaultDuration:        cfg.Session.DefaultDuration,
		},
	)

	return Client{Coordinator: coordinator, Config: cfg}, nil
}

// BuildServer wires the upload and synthesis endpoints.
func BuildServer(ctx context.Context, cfg config.Config) (*server.Server, error) {
	if err := requireCommand(cfg.Audio.RecorderCommand); err != nil {
		return nil, err
	}

	opts, err := google.ClientOptions(ctx, google.Credentials{
		CredentialsFile: cfg.Google.CredentialsFile,
		APIKey:          cfg.Google.APIKey,
		Endpoint:        cfg.Google.Endpoint,
	})
	if err != nil {
		return nil, err
	}
	stt, err := google.NewSpeechToText(ctx, opts...)
	if err != nil {
		return nil, unsupported("speech-to-text", err)
	}
	tts, err := google.NewTextToSpeech(ctx, ports.Voice{
		LanguageCode: cfg.Google.VoiceLanguage,
		Name:         cfg.Google.VoiceName,
	}, cfg.Google.AudioEncoding, opts...)
	if err != nil {
		return nil, unsupported("text-to-speech", err)
	}

	uploads := transcode.New(transcode.Config{
		Command:     cfg.Audio.RecorderCommand,
		UploadDir:   cfg.Server.UploadDir,
		InputFormat: cfg.Server.UploadFormat,
	})
	return server.New(uploads, stt, tts, server.Config{
		BodyLimit:    cfg.Server.BodyLimit,
		LanguageCode: cfg.Google.LanguageCode,
	}), nil
}

func requireCommand(command string) error {
	if strings.TrimSpace(command) == "" {
		return unsupported("media", errors.New("no command configured"))
	}
	if _, err := exec.LookPath(command); err != nil {
		return unsupported("media", fmt.Errorf("%s not available: %w", command, err))
	}
	return nil
}

func unsupported(op string, err error) error {
	return domain.NewError(domain.KindUnsupported, op, err)
}
