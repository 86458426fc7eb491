package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"parley/internal/domain"
)

// noFirstPrompt is what the lifecycle service returns when it has no opening
// line for the session.
const noFirstPrompt = "NA"

// LifecycleClient drives the session lifecycle service.
type LifecycleClient struct {
	client
}

func NewLifecycleClient(opts Options) *LifecycleClient {
	return &LifecycleClient{client: newClient("lifecycle-client", opts)}
}

type createSessionResponse struct {
	Error   string `json:"error"`
	Session struct {
		SessionID string `json:"session_id"`
		UID       string `json:"uid"`
		Duration  int    `json:"duration"`
		Title     struct {
			SessionTitle string `json:"session_title"`
		} `json:"title"`
		FirstPrompt struct {
			FirstPrompt string `json:"first_prompt"`
		} `json:"first_prompt"`
	} `json:"session"`
}

// lifecycleResponse is the body of pause, resume, extend and complete. The
// service reports some failures in a 200 body.
type lifecycleResponse struct {
	Error string `json:"error"`
}

func (c *LifecycleClient) Create(ctx context.Context, params domain.SessionParams) (domain.SessionInfo, error) {
	var resp createSessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", nil, params, &resp); err != nil {
		return domain.SessionInfo{}, domain.NewError(domain.KindLifecycle, "create session", err)
	}
	if msg := strings.TrimSpace(resp.Error); msg != "" {
		return domain.SessionInfo{}, domain.NewError(domain.KindLifecycle, "create session", errors.New(msg))
	}
	if resp.Session.SessionID == "" {
		return domain.SessionInfo{}, domain.NewError(domain.KindLifecycle, "create session", errors.New("response carries no session id"))
	}

	firstPrompt := strings.TrimSpace(resp.Session.FirstPrompt.FirstPrompt)
	if firstPrompt == noFirstPrompt {
		firstPrompt = ""
	}
	minutes := resp.Session.Duration
	if minutes <= 0 {
		minutes = params.DurationMinutes
	}
	userID := resp.Session.UID
	if userID == "" {
		userID = params.UserID
	}

	info := domain.SessionInfo{
		ID:          resp.Session.SessionID,
		UserID:      userID,
		Title:       resp.Session.Title.SessionTitle,
		Duration:    time.Duration(minutes) * time.Minute,
		FirstPrompt: firstPrompt,
	}
	c.log.Info("session created", "session_id", info.ID, "duration", info.Duration)
	return info, nil
}

func (c *LifecycleClient) Pause(ctx context.Context, sessionID string) error {
	return c.call(ctx, "pause session", http.MethodPost, sessionPath(sessionID, "pause"), nil)
}

func (c *LifecycleClient) Resume(ctx context.Context, sessionID string) error {
	return c.call(ctx, "resume session", http.MethodPost, sessionPath(sessionID, "resume"), nil)
}

func (c *LifecycleClient) Extend(ctx context.Context, sessionID string, minutes int) error {
	query := url.Values{"additional_duration": []string{strconv.Itoa(minutes)}}
	return c.call(ctx, "extend session", http.MethodPut, sessionPath(sessionID, "extend"), query)
}

func (c *LifecycleClient) Complete(ctx context.Context, sessionID string) error {
	return c.call(ctx, "complete session", http.MethodPost, sessionPath(sessionID, "complete"), nil)
}

func (c *LifecycleClient) call(ctx context.Context, op, method, path string, query url.Values) error {
	var resp lifecycleResponse
	if err := c.doJSON(ctx, method, path, query, struct{}{}, &resp); err != nil {
		return domain.NewError(domain.KindLifecycle, op, err)
	}
	if msg := strings.TrimSpace(resp.Error); msg != "" {
		return domain.NewError(domain.KindLifecycle, op, errors.New(msg))
	}
	c.log.Info(op, "path", path)
	return nil
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + url.PathEscape(sessionID) + "/" + action
}
