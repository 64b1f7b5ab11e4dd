// Package api provides the HTTP client for the NeuroClima RAG service.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const beaconTimeout = time.Second

// Client talks to the NeuroClima conversation API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client. The base URL must not have a trailing
// slash; timeout bounds every request issued through the shared HTTP client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StartConversation begins a new session. When the server streams the answer,
// intermediate fragments are forwarded to onChunk (which may be nil) before
// the final result is returned.
func (c *Client) StartConversation(ctx context.Context, req StartRequest, onChunk func(string)) (*ConversationResult, error) {
	res, err := c.postConversation(ctx, c.baseURL+"/api/conversation/start", "start conversation", req, onChunk)
	if err != nil {
		return nil, err
	}
	if res.SessionID == "" {
		return nil, &NetworkError{Op: "start conversation", Err: errors.New("response missing session_id")}
	}
	return res, nil
}

// ContinueConversation sends a follow-up message scoped to sessionID.
func (c *Client) ContinueConversation(ctx context.Context, sessionID string, req ContinueRequest, onChunk func(string)) (*ConversationResult, error) {
	endpoint := fmt.Sprintf("%s/api/conversation/%s/continue", c.baseURL, url.PathEscape(sessionID))
	return c.postConversation(ctx, endpoint, "continue conversation", req, onChunk)
}

// DeleteSession tells the server to discard the session.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	endpoint := fmt.Sprintf("%s/api/session/%s", c.baseURL, url.PathEscape(sessionID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return &NetworkError{Op: "delete session", Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return c.transportError("delete session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &NetworkError{Op: "delete session", Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
	}
	return nil
}

// SendBeacon issues a fire-and-forget session deletion with its own short
// deadline, detached from any caller context. The response is discarded.
func (c *Client) SendBeacon(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/session/%s", c.baseURL, url.PathEscape(sessionID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
	return resp.Body.Close()
}

// WebSocketURL returns the push-channel endpoint for a session, with the
// scheme rewritten for WebSocket dialing.
func (c *Client) WebSocketURL(sessionID string) string {
	wsBase := c.baseURL
	switch {
	case strings.HasPrefix(wsBase, "https://"):
		wsBase = "wss://" + strings.TrimPrefix(wsBase, "https://")
	case strings.HasPrefix(wsBase, "http://"):
		wsBase = "ws://" + strings.TrimPrefix(wsBase, "http://")
	}
	return fmt.Sprintf("%s/api/session/%s/ws", wsBase, url.PathEscape(sessionID))
}

func (c *Client) postConversation(ctx context.Context, endpoint, op string, payload any, onChunk func(string)) (*ConversationResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, ErrSessionNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)}
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.readEventStream(op, resp.Body, onChunk)
	}

	var result ConversationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &result, nil
}

// readEventStream consumes SSE frames: "chunk" events carry answer fragments,
// a single terminal "result" event carries the full ConversationResult, and
// "error" aborts the stream.
func (c *Client) readEventStream(op string, body io.Reader, onChunk func(string)) (*ConversationResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			switch event {
			case "chunk":
				if onChunk != nil && data != "" {
					onChunk(data)
				}
			case "result":
				var result ConversationResult
				if err := json.Unmarshal([]byte(data), &result); err != nil {
					return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode result event: %w", err)}
				}
				return &result, nil
			case "error":
				return nil, &NetworkError{Op: op, Err: fmt.Errorf("server error: %s", data)}
			case "":
				// Comment or keepalive frame.
			default:
				slog.Debug("Ignoring unknown SSE event", "event", event)
			}
			event, data = "", ""
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, c.transportError(op, err)
	}
	return nil, &NetworkError{Op: op, Err: errors.New("stream ended without result event")}
}

func (c *Client) transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return &NetworkError{Op: op, Err: err}
}
