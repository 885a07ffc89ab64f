// Package telegram sends rendered messages through the Bot API and paces
// outbound calls under the platform's global and per-chat rate limits.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the production Bot API endpoint family
const DefaultBaseURL = "https://api.telegram.org"

// Client calls the Bot API send<Type> method family
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Bot API client for the given token
func NewClient(token string) *Client {
	return &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at a different API host, used in tests
func (c *Client) WithBaseURL(base string) *Client {
	c.baseURL = strings.TrimRight(base, "/")
	return c
}

// apiResponse is the Bot API envelope
type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// ThrottledError signals the platform rate limit with a machine-readable
// delay; the caller sleeps and retries the identical call.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// APIError is any other non-ok Bot API response
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram error %d: %s", e.Code, e.Description)
}

// Send performs one send<Type> call with the rendered arguments. A throttled
// response comes back as *ThrottledError, other API failures as *APIError.
func (c *Client) Send(ctx context.Context, chatID, msgType string, args map[string]string) error {
	endpoint := fmt.Sprintf("%s/bot%s/send%s", c.baseURL, c.token, msgType)

	form := url.Values{}
	form.Set("chat_id", chatID)
	for k, v := range args {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing to do on close failure

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if parsed.OK {
		return nil
	}
	if parsed.ErrorCode == http.StatusTooManyRequests && parsed.Parameters.RetryAfter > 0 {
		return &ThrottledError{RetryAfter: time.Duration(parsed.Parameters.RetryAfter) * time.Second}
	}
	return &APIError{Code: parsed.ErrorCode, Description: parsed.Description}
}
