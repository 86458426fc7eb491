package remote

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"parley/internal/domain"
)

// SynthesisClient fetches speech for response text from the pipeline
// server's synthesis endpoint.
type SynthesisClient struct {
	client
}

func NewSynthesisClient(opts Options) *SynthesisClient {
	return &SynthesisClient{client: newClient("synthesis-client", opts)}
}

// Speech returns NoAudio for blank text, and when the server answers with its
// JSON empty marker instead of audio.
func (c *SynthesisClient) Speech(ctx context.Context, text string) (domain.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return domain.NoAudio, nil
	}

	resp, err := c.do(ctx, http.MethodPost, "/text-to-speech", nil, map[string]string{"text": text})
	if err != nil {
		return domain.NoAudio, domain.NewError(domain.KindSynthesis, "fetch speech", err)
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.NoAudio, nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NoAudio, domain.NewError(domain.KindSynthesis, "fetch speech", fmt.Errorf("failed to read audio: %w", err))
	}
	if len(audio) == 0 {
		return domain.NoAudio, nil
	}
	return domain.NewClip(audio, formatForMediaType(mediaType)), nil
}

func formatForMediaType(mediaType string) domain.AudioFormat {
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return domain.AudioFormat{Container: domain.ContainerWAV, Codec: domain.CodecPCMS16LE}
	case "audio/webm":
		return domain.AudioFormat{Container: domain.ContainerWebM, Codec: domain.CodecOpus}
	default:
		return domain.AudioFormat{Container: domain.ContainerMP3, Codec: domain.CodecMP3}
	}
}
