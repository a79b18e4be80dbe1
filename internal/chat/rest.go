// Package chat is the REST collaborator client: paginated message history,
// reaction mutations, and the directory lookups used to resolve display
// metadata. The realtime engine treats it as an opaque fetcher returning
// the shared wire shapes.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	v1 "github.com/rama7993/quickchat/contracts/chat/v1"
)

const defaultRequestTimeout = 15 * time.Second

// TokenFunc supplies the current bearer token at request time, so token
// rotation elsewhere is picked up without rebuilding the client.
type TokenFunc func() string

// Client talks to the QuickChat REST API.
type Client struct {
	log   *slog.Logger
	base  string
	httpc *http.Client
	token TokenFunc
}

// NewClient constructs a REST client. token may be nil for unauthenticated
// endpoints; timeout <= 0 falls back to the default.
func NewClient(log *slog.Logger, baseURL string, token TokenFunc, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		log:   log,
		base:  strings.TrimRight(baseURL, "/"),
		httpc: &http.Client{Timeout: timeout},
		token: token,
	}
}

// HistoryQuery describes one history page request. Exactly one of PeerID or
// GroupID is set; Page starts at 1.
type HistoryQuery struct {
	PeerID  string
	GroupID string
	Page    int
	Limit   int
}

// History fetches one page of message history for a peer or a group.
func (c *Client) History(ctx context.Context, q HistoryQuery) ([]v1.Message, error) {
	var path string
	switch {
	case q.PeerID != "" && q.GroupID == "":
		path = "/messages/private/" + url.PathEscape(q.PeerID)
	case q.GroupID != "" && q.PeerID == "":
		path = "/messages/group/" + url.PathEscape(q.GroupID)
	default:
		return nil, fmt.Errorf("chat: history query must name exactly one of peer or group")
	}

	params := url.Values{}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if enc := params.Encode(); enc != "" {
		path += "?" + enc
	}

	var msgs []v1.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return msgs, nil
}

// React adds or toggles a reaction and returns the canonical updated
// message.
func (c *Client) React(ctx context.Context, messageID, emoji string) (v1.Message, error) {
	if messageID == "" {
		return v1.Message{}, fmt.Errorf("chat: missing message id")
	}
	body := map[string]string{"emoji": emoji}

	var msg v1.Message
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.do(ctx, http.MethodPost, path, body, &msg); err != nil {
		return v1.Message{}, fmt.Errorf("react: %w", err)
	}
	return msg, nil
}

// Users lists users for display metadata resolution.
func (c *Client) Users(ctx context.Context) ([]v1.UserRef, error) {
	var users []v1.UserRef
	if err := c.do(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	return users, nil
}

// Groups lists the groups the authenticated user belongs to.
func (c *Client) Groups(ctx context.Context) ([]v1.GroupRef, error) {
	var groups []v1.GroupRef
	if err := c.do(ctx, http.MethodGet, "/groups", nil, &groups); err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	return groups, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Bounded read keeps error payloads out of log floods.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
