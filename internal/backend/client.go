package backend

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
)

var (
	ErrInvalidCode      = errors.New("invalid code")
	ErrAlreadySubmitted = errors.New("already submitted")
	ErrNetwork          = errors.New("network error")
)

// RejectedError is any other failure the backend or proxy reported.
type RejectedError struct {
	Status int
	Code   string
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("rejected (%d): %s: %s", e.Status, e.Code, e.Detail)
	}
	return fmt.Sprintf("rejected (%d): %s", e.Status, e.Code)
}

type Config struct {
	URL     string
	Origin  string
	AppKey  string
	Timeout time.Duration
}

type SubmitRequest struct {
	Code      string
	Level     int
	Score     int
	ElapsedMS int64
}

// Client speaks the sign-in and score protocol through the proxy.
type Client struct {
	endpoint string
	appKey   string
	http     *http.Client
}

func New(cfg Config, hc *http.Client) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("backend url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q is not absolute", cfg.URL)
	}
	if cfg.Origin != "" {
		q := u.Query()
		q.Set("origin", cfg.Origin)
		u.RawQuery = q.Encode()
	}
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{endpoint: u.String(), appKey: cfg.AppKey, http: hc}, nil
}

type envelope struct {
	OK      bool   `json:"ok"`
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail"`
}

// Exchange trades a sign-in code for the code used on submission.
func (c *Client) Exchange(ctx context.Context, code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrInvalidCode
	}
	env, status, err := c.post(ctx, map[string]any{"action": "exchange", "code": code})
	if err != nil {
		return "", err
	}
	if env.OK && status < 300 {
		if env.Code == "" {
			return code, nil
		}
		return env.Code, nil
	}
	return "", mapFailure(status, env)
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) error {
	env, status, err := c.post(ctx, map[string]any{
		"action":     "submit",
		"code":       req.Code,
		"level":      req.Level,
		"score":      req.Score,
		"elapsed_ms": req.ElapsedMS,
	})
	if err != nil {
		return err
	}
	if env.Success && status < 300 {
		return nil
	}
	return mapFailure(status, env)
}

func (c *Client) post(ctx context.Context, payload map[string]any) (envelope, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return envelope{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return envelope{}, 0, err
	}
	// text/plain keeps browser callers out of a CORS preflight; the proxy
	// forwards it the same way.
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")
	if c.appKey != "" {
		req.Header.Set("X-App-Key", c.appKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, resp.StatusCode, &RejectedError{Status: resp.StatusCode, Code: "bad_response", Detail: truncate(string(raw), 120)}
	}
	return env, resp.StatusCode, nil
}

func mapFailure(status int, env envelope) error {
	code := env.Error
	if code == "" {
		code = env.Reason
	}
	switch {
	case code == "invalid_code":
		return ErrInvalidCode
	case code == "already_submitted" || env.Reason == "already_submitted":
		return ErrAlreadySubmitted
	case code == "upstream_error":
		return fmt.Errorf("%w: %s", ErrNetwork, env.Detail)
	case code == "":
		code = "unknown"
	}
	return &RejectedError{Status: status, Code: code, Detail: env.Detail}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
