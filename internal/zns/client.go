// Package zns is a client for the Zalo Notification Service template
// message API.
package zns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"golang.org/x/oauth2"

	"github.com/ignite/zns-dispatch/internal/config"
	"github.com/ignite/zns-dispatch/internal/dispatch"
	"github.com/ignite/zns-dispatch/internal/pkg/httpretry"
)

const (
	sendPath     = "/message/template"
	maxBodyBytes = 1 << 20
)

// ErrMalformedResponse is returned when a successful HTTP response carries a
// body that is not a ZNS JSON envelope.
var ErrMalformedResponse = errors.New("zns: malformed response body")

// Client is a ZNS API client
type Client struct {
	baseURL     string
	tokens      oauth2.TokenSource
	httpClient  httpretry.HTTPDoer
	development bool
}

// NewClient creates a ZNS client. The HTTP client does not retry: retries
// belong to the dispatch queue so the attempt ceiling holds.
func NewClient(cfg config.ZNSConfig, tokens oauth2.TokenSource) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		tokens:      tokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout()},
		development: cfg.Development,
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(doer httpretry.HTTPDoer) *Client {
	c.httpClient = doer
	return c
}

// SendTemplate posts one template message. HTTP and application failures are
// reported in the returned Response; an error means the call itself failed
// (token, transport, or an unreadable success body).
func (c *Client) SendTemplate(ctx context.Context, msg Message) (*dispatch.Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining access token: %w", err)
	}

	if c.development && msg.Mode == "" {
		msg.Mode = "development"
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sendPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access_token", tok.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := &dispatch.Response{HTTPStatus: resp.StatusCode}

	var parsed SendResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		// gateway pages and other non-JSON error bodies
		out.Message = truncate(strings.TrimSpace(string(raw)), 200)
		return out, nil
	}

	out.ErrorCode = parsed.Error
	out.Message = parsed.Message
	if out.Message == "" && parsed.Error != CodeSuccess {
		out.Message = Describe(parsed.Error)
	}
	out.Raw = raw
	return out, nil
}

// SendFunc adapts the client to the dispatch queue.
func (c *Client) SendFunc() dispatch.SendFunc {
	return func(ctx context.Context, p dispatch.Payload) (*dispatch.Response, error) {
		return c.SendTemplate(ctx, Message{
			Phone:        p.Recipient,
			TemplateID:   p.TemplateID,
			TemplateData: p.Params,
			TrackingID:   p.TrackingID,
		})
	}
}

// token waits for the token source until ctx is done. A refresh that is
// still running keeps going under its own timeout, and the reusing source
// caches its token for the next send.
func (c *Client) token(ctx context.Context) (*oauth2.Token, error) {
	type outcome struct {
		tok *oauth2.Token
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		tok, err := c.tokens.Token()
		done <- outcome{tok: tok, err: err}
	}()

	select {
	case o := <-done:
		return o.tok, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
