package remote

import (
	"context"
	"net/http"
	"strings"
	"time"

	"parley/internal/domain"
	"parley/internal/ports"
)

// ExchangeClient sends a finalized transcript to the prompt/response service.
type ExchangeClient struct {
	client
	now func() time.Time
}

func NewExchangeClient(opts Options) *ExchangeClient {
	return &ExchangeClient{client: newClient("exchange-client", opts), now: time.Now}
}

type promptRequest struct {
	UserID         string `json:"user_id"`
	Prompt         string `json:"prompt"`
	SessionID      string `json:"session_id"`
	PreviousPrompt string `json:"previous_prompt"`
}

type promptResponse struct {
	FollowUpQuestion string `json:"follow_up_question"`
	Timestamp        string `json:"timestamp"`
}

// timestampLayouts covers the service's zone-less ISO timestamps.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (c *ExchangeClient) Exchange(ctx context.Context, userID, transcript, sessionID, previous string) (ports.PromptReply, error) {
	req := promptRequest{
		UserID:         userID,
		Prompt:         transcript,
		SessionID:      sessionID,
		PreviousPrompt: previous,
	}
	var resp promptResponse
	if err := c.doJSON(ctx, http.MethodPost, "/prompt", nil, req, &resp); err != nil {
		return ports.PromptReply{}, domain.NewError(domain.KindExchange, "exchange prompt", err)
	}
	return ports.PromptReply{Text: resp.FollowUpQuestion, Timestamp: c.parseTimestamp(resp.Timestamp)}, nil
}

func (c *ExchangeClient) parseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return c.now()
}
