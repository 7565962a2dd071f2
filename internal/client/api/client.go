// Package api is the client for the synchronous chat API: authentication,
// profile, channel and message endpoints. Responses use the
// {code, message, data} envelope; failures are classified into the
// syncerr taxonomy.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/internal/client/syncerr"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource with a fixed value.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client talks to the chat API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient constructs an API client rooted at baseURL (e.g. http://host:8080/api).
func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	c := &Client{
		baseURL: normalized,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NormalizeBaseURL checks the scheme and strips the trailing slash.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errors.New("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", errors.Wrap(err, "invalid api url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Errorf("api url must use http or https, got %q", value)
	}
	return strings.TrimRight(value, "/"), nil
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var token string
	body := map[string]string{"username": username, "password": password}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/login", nil, body, &token); err != nil {
		return "", err
	}
	if token == "" {
		return "", errors.Wrap(syncerr.ErrProtocol, "login response carried no token")
	}
	return token, nil
}

// Logout revokes the current token.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/auth/logout", nil, nil, nil)
}

// Me fetches the authenticated user's profile with their channels.
func (c *Client) Me(ctx context.Context) (chat.Profile, error) {
	var profile chat.Profile
	if err := c.doJSON(ctx, http.MethodGet, "/users/@me", nil, nil, &profile); err != nil {
		return chat.Profile{}, err
	}
	return profile, nil
}

// Channel fetches a channel with its members.
func (c *Client) Channel(ctx context.Context, id chat.ID) (chat.ChannelWithMembers, error) {
	var ch chat.ChannelWithMembers
	if err := c.doJSON(ctx, http.MethodGet, "/channels/"+url.PathEscape(id.String()), nil, nil, &ch); err != nil {
		return chat.ChannelWithMembers{}, err
	}
	return ch, nil
}

// PageRequest selects a page of channel history. A zero Size asks for the
// server default.
type PageRequest struct {
	Page int
	Size int
	// Descending asks for newest first.
	Descending bool
}

// Messages fetches one page of a channel's history. Both a bare JSON list and
// a paginated envelope are accepted; a bare list is reported as a single
// last page.
func (c *Client) Messages(ctx context.Context, channelID chat.ID, req PageRequest) (chat.Page[chat.Message], error) {
	query := url.Values{}
	query.Set("page", itoa(req.Page))
	if req.Size > 0 {
		query.Set("size", itoa(req.Size))
	}
	if req.Descending {
		query.Set("sortDirection", "DESC")
	}

	var raw json.RawMessage
	path := "/channels/" + url.PathEscape(channelID.String()) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, query, nil, &raw); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	page, err := DecodeMessagePage(raw)
	if err != nil {
		return chat.Page[chat.Message]{}, errors.Wrap(syncerr.Protocol(err), "decode channel history")
	}
	return page, nil
}

// PostMessage submits a message. The created message is returned for
// diagnostics only; delivery to the views happens via push.
func (c *Client) PostMessage(ctx context.Context, channelID chat.ID, content string) (chat.Message, error) {
	var created chat.Message
	path := "/channels/" + url.PathEscape(channelID.String()) + "/messages"
	body := map[string]string{"content": content}
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &created); err != nil {
		return chat.Message{}, err
	}
	return created, nil
}

// DecodeMessagePage accepts `[...]`, `{content:[...], ...}` or null.
func DecodeMessagePage(raw json.RawMessage) (chat.Page[chat.Message], error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return chat.Page[chat.Message]{Last: true, TotalPages: 1}, nil
	}
	if trimmed[0] == '[' {
		var list []chat.Message
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return chat.Page[chat.Message]{}, err
		}
		return chat.Page[chat.Message]{
			Content:       list,
			Size:          len(list),
			TotalElements: int64(len(list)),
			TotalPages:    1,
			Last:          true,
		}, nil
	}
	var page chat.Page[chat.Message]
	if err := json.Unmarshal(trimmed, &page); err != nil {
		return chat.Page[chat.Message]{}, err
	}
	return page, nil
}

type envelope struct {
	Code    *int            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.Wrapf(syncerr.Transient(err), "%s %s", method, path)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(syncerr.Transient(err), "read %s %s", method, path)
	}

	var env envelope
	hasEnvelope := json.Unmarshal(respData, &env) == nil && env.Code != nil

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := resp.StatusCode, ""
		if hasEnvelope {
			code, message = *env.Code, env.Message
		} else {
			message = strings.TrimSpace(string(respData))
		}
		return syncerr.NewAPIError(resp.StatusCode, code, message)
	}

	if respBody == nil {
		return nil
	}
	payload := json.RawMessage(respData)
	if hasEnvelope {
		payload = env.Data
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, respBody); err != nil {
		return errors.Wrapf(syncerr.Protocol(err), "decode %s %s", method, path)
	}
	return nil
}

func itoa(n int) string {
	if n < 0 {
		n = 0
	}
	return strconv.Itoa(n)
}
