// Package deepgram implements continuous recognition over Deepgram's
// streaming listen websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
)

const (
	defaultBaseURL   = "https://api.deepgram.com/v1"
	defaultModel     = "nova-2"
	defaultKeepAlive = 8 * time.Second
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// KeepAlive is how often a KeepAlive frame is sent while no audio flows.
	// Negative disables it.
	KeepAlive time.Duration
}

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *slog.Logger
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = defaultKeepAlive
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer, log: logging.Component("deepgram")}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, domain.NewError(domain.KindUnsupported, "start streaming", errors.New("DEEPGRAM_API_KEY is not configured"))
	}

	wsURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, domain.NewError(domain.KindUnsupported, "start streaming", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, classifyDialErr(resp, err)
	}

	session := &streamingSession{
		conn:       conn,
		events:     make(chan domain.TranscriptEvent, 64),
		audio:      make(chan []byte, 32),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
		closing:    make(chan struct{}),
		keepAlive:  p.cfg.KeepAlive,
		log:        p.log,
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.events)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.done:
		}
	}()

	p.log.Debug("stream opened", "model", p.cfg.Model, "rate", cfg.SampleRate)
	return session, nil
}

// classifyDialErr separates rejected credentials, which retrying cannot fix,
// from network failures.
func classifyDialErr(resp *http.Response, err error) error {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return domain.RecognitionError("AUTH", false, fmt.Errorf("deepgram rejected credentials: %s", resp.Status))
		case http.StatusBadRequest:
			return domain.RecognitionError("CONFIG", false, fmt.Errorf("deepgram rejected stream options: %s", resp.Status))
		}
	}
	return domain.RecognitionError("NET", true, fmt.Errorf("failed to connect to Deepgram websocket: %w", err))
}

type streamingSession struct {
	conn *websocket.Conn
	log  *slog.Logger

	events     chan domain.TranscriptEvent
	audio      chan []byte
	done       chan struct{}
	readerDone chan struct{}
	closing    chan struct{}
	keepAlive  time.Duration

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSendOnce sync.Once
	closeOnce     sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool
}

func (s *streamingSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("audio stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.readerDone:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("session closed")
	}
}

func (s *streamingSession) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *streamingSession) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *streamingSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.conn.Close()
	})
	<-s.done
	return s.waitErr()
}

func (s *streamingSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamingSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *streamingSession) writeLoop() {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.keepAlive > 0 {
		ticker := time.NewTicker(s.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.setErr(classifyStreamErr(fmt.Errorf("failed to close stream: %w", err)))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(classifyStreamErr(fmt.Errorf("failed to send audio: %w", err)))
				_ = s.conn.Close()
				return
			}
		case <-tick:
			if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"KeepAlive"}`)); err != nil {
				s.setErr(classifyStreamErr(fmt.Errorf("failed to send keepalive: %w", err)))
				_ = s.conn.Close()
				return
			}
		case <-s.readerDone:
			return
		}
	}
}

func (s *streamingSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readerDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(classifyStreamErr(err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			s.log.Debug("skipping unparseable provider event", "err", err)
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			s.setErr(providerError(response))
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}

		event := domain.TranscriptEvent{Text: transcript, IsSpeechFinal: response.SpeechFinal}
		if response.IsFinal || response.SpeechFinal {
			event.Kind = domain.TranscriptKindFinal
		} else {
			event.Kind = domain.TranscriptKindPartial
		}
		s.emit(event)
	}
}

// emit waits for room for finals until the session is closed; partials are
// dropped when the consumer is behind.
func (s *streamingSession) emit(event domain.TranscriptEvent) {
	if event.Kind == domain.TranscriptKindFinal {
		select {
		case s.events <- event:
		case <-s.closing:
		}
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// classifyStreamErr maps websocket failures onto recognition errors. A
// normal close is a clean end of stream. Deepgram puts its NET-/DATA- reason
// code in the close frame text; NET timeouts are worth a retry.
func classifyStreamErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
			return nil
		}
		reason := strings.TrimSpace(closeErr.Text)
		return domain.RecognitionError(reason, strings.HasPrefix(reason, "NET-"), err)
	}
	return domain.RecognitionError("NET", true, err)
}

func providerError(response deepgramResponse) error {
	message := strings.TrimSpace(response.Description)
	if message == "" {
		message = strings.TrimSpace(response.Message)
	}
	if message == "" {
		message = "deepgram returned an unknown error"
	}
	reason := strings.TrimSpace(response.Variant)
	return domain.RecognitionError(reason, strings.HasPrefix(reason, "NET-"), errors.New(message))
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	Variant     string `json:"variant"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", streamCfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", streamCfg.Channels))
	query.Set("interim_results", fmt.Sprintf("%t", streamCfg.InterimResults))
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
