package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Sentinel errors for the chat service operations. Network and decode failures
// are wrapped around these so callers can classify with errors.Is without
// inspecting transport details.
var (
	ErrFetch  = errors.New("chat api: fetch failed")
	ErrCreate = errors.New("chat api: session creation failed")
	ErrDelete = errors.New("chat api: history deletion failed")
	ErrSubmit = errors.New("chat api: message submission failed")
)

// Config configures a Client.
type Config struct {
	// BaseURL is the chat service root, e.g. "http://localhost:9000".
	BaseURL string
	// HTTPClient is optional; a client with a 30s timeout is used when nil.
	HTTPClient *http.Client
}

// Client is a thin request/response client for the chat service. It performs
// no retries; a failed call surfaces its error and leaves nothing behind.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("chat api: base URL is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("chat api: invalid base URL: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: base, hc: hc}, nil
}

// ListSessions returns the user's session identifiers in server order.
func (c *Client) ListSessions(ctx context.Context, email string) ([]string, error) {
	var sessions []string
	err := c.doJSON(ctx, http.MethodGet, "/api/chat-sessions/"+url.PathEscape(email), nil, &sessions)
	if err != nil {
		return nil, fmt.Errorf("%w: list sessions: %v", ErrFetch, err)
	}
	return sessions, nil
}

// CreateSession asks the service for a new session and returns its identifier.
func (c *Client) CreateSession(ctx context.Context, email string) (string, error) {
	body := map[string]string{"email": email}
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/new-chat-session", body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreate, err)
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("%w: service returned empty session id", ErrCreate)
	}
	return resp.SessionID, nil
}

// FetchHistory returns the full ordered history of one session.
func (c *Client) FetchHistory(ctx context.Context, email, sessionID string) ([]Exchange, error) {
	p := "/api/chat-history/" + url.PathEscape(email) + "/" + url.PathEscape(sessionID)
	var conv []Exchange
	if err := c.doJSON(ctx, http.MethodGet, p, nil, &conv); err != nil {
		return nil, fmt.Errorf("%w: history %s: %v", ErrFetch, sessionID, err)
	}
	return conv, nil
}

// DeleteHistory removes a session's history on the server.
func (c *Client) DeleteHistory(ctx context.Context, email, sessionID string) error {
	p := "/api/delete-chat-history/" + url.PathEscape(email) + "/" + url.PathEscape(sessionID)
	if err := c.doJSON(ctx, http.MethodDelete, p, nil, nil); err != nil {
		return fmt.Errorf("%w: session %s: %v", ErrDelete, sessionID, err)
	}
	return nil
}

// Submit sends a user message and returns the assistant response together with
// the session it was recorded under.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api", req, &resp); err != nil {
		return SubmitResponse{}, fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		log.Debug().Str("component", "chatapi").Str("path", path).Int("status", res.StatusCode).Msg("chat service returned non-2xx")
		return fmt.Errorf("%s %s: status %d: %s", method, path, res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
