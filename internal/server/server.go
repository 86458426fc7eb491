// Package server exposes the upload and synthesis endpoints over HTTP.
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"parley/internal/domain"
	"parley/internal/logging"
	"parley/internal/ports"
	"parley/internal/transcode"
)

// Uploads stores an uploaded recording and converts it to linear PCM in the
// background.
type Uploads interface {
	Store(original string, body io.Reader, format domain.AudioFormat) (domain.AudioClip, error)
	Submit(ctx context.Context, clip domain.AudioClip) <-chan transcode.Result
}

type Config struct {
	BodyLimit    string
	LanguageCode string
}

type Server struct {
	echo    *echo.Echo
	uploads Uploads
	stt     ports.SpeechToText
	speech  ports.SpeechSource
	cfg     Config
	log     *slog.Logger
}

// New builds the router. stt may be nil, in which case ?transcribe is
// ignored.
func New(uploads Uploads, stt ports.SpeechToText, speech ports.SpeechSource, cfg Config) *Server {
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "25M"
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	s := &Server{echo: e, uploads: uploads, stt: stt, speech: speech, cfg: cfg, log: logging.Component("server")}
	e.GET("/healthz", s.health)
	e.POST("/speech-to-text", s.speechToText)
	e.POST("/text-to-speech", s.textToSpeech)
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type uploadResponse struct {
	Message    string  `json:"message"`
	Path       string  `json:"path"`
	Transcript *string `json:"transcript,omitempty"`
}

func (s *Server) speechToText(c echo.Context) error {
	header, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No audio file uploaded"})
	}
	file, err := header.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No audio file uploaded"})
	}
	defer file.Close()

	ctx := c.Request().Context()
	// the container is declared by the transcoder's configured input format,
	// never inferred from the client's file name
	stored, err := s.uploads.Store(header.Filename, file, domain.AudioFormat{})
	if err != nil {
		s.log.Error("failed to store upload", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Audio conversion failed"})
	}
	s.log.Info("audio received", "path", stored.Path(), "size", header.Size)

	var result transcode.Result
	select {
	case result = <-s.uploads.Submit(ctx, stored):
	case <-ctx.Done():
		result.Err = ctx.Err()
	}
	if result.Err != nil {
		s.log.Error("audio conversion failed", "err", result.Err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Audio conversion failed"})
	}
	converted := result.Clip

	resp := uploadResponse{Message: "Success", Path: converted.Path()}
	if s.stt != nil && wantsTranscript(c.QueryParam("transcribe")) {
		transcript, err := s.stt.Recognize(ctx, converted, ports.RecognitionConfig{
			Encoding:     "LINEAR16",
			SampleRate:   converted.Format().SampleRate,
			LanguageCode: s.cfg.LanguageCode,
		})
		if err != nil {
			s.log.Error("transcription failed", "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Speech to Text failed"})
		}
		resp.Transcript = &transcript
	}
	return c.JSON(http.StatusOK, resp)
}

type synthesisRequest struct {
	Text string `json:"text"`
}

func (s *Server) textToSpeech(c echo.Context) error {
	var req synthesisRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusOK, map[string]string{"msg": ""})
	}

	clip, err := s.speech.Speech(c.Request().Context(), req.Text)
	if err != nil {
		s.log.Error("synthesis failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Text to Speech failed"})
	}
	if clip.IsEmpty() {
		return c.JSON(http.StatusOK, map[string]string{"msg": ""})
	}
	audio, err := clip.Bytes()
	if err != nil {
		s.log.Error("failed to read synthesized audio", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Text to Speech failed"})
	}
	return c.Blob(http.StatusOK, mediaTypeFor(clip.Format()), audio)
}

func wantsTranscript(raw string) bool {
	if raw == "" {
		return false
	}
	ok, err := strconv.ParseBool(raw)
	return err == nil && ok
}

func mediaTypeFor(format domain.AudioFormat) string {
	switch format.Container {
	case domain.ContainerWAV:
		return "audio/wav"
	case domain.ContainerWebM:
		return "audio/webm"
	default:
		return "audio/mpeg"
	}
}
