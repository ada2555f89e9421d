package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

type captured struct {
	origin      string
	contentType string
	appKey      string
	body        map[string]any
}

func newBackend(t *testing.T, status int, reply string, seen *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if seen != nil {
			seen.origin = r.URL.Query().Get("origin")
			seen.contentType = r.Header.Get("Content-Type")
			seen.appKey = r.Header.Get("X-App-Key")
			_ = json.Unmarshal(raw, &seen.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExchangeSuccess(t *testing.T) {
	var seen captured
	srv := newBackend(t, http.StatusOK, `{"ok":true,"code":"PLAY-123"}`, &seen)
	c, err := New(Config{URL: srv.URL, Origin: "http://localhost:3000", AppKey: "k"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Exchange(context.Background(), " SIGNIN ")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if got != "PLAY-123" {
		t.Fatalf("expected exchanged code, got %q", got)
	}
	if seen.origin != "http://localhost:3000" || seen.contentType != "text/plain;charset=utf-8" || seen.appKey != "k" {
		t.Fatalf("unexpected request %+v", seen)
	}
	if seen.body["action"] != "exchange" || seen.body["code"] != "SIGNIN" {
		t.Fatalf("unexpected body %v", seen.body)
	}
}

func TestExchangeInvalidCode(t *testing.T) {
	srv := newBackend(t, http.StatusOK, `{"ok":false,"error":"invalid_code"}`, nil)
	c, _ := New(Config{URL: srv.URL}, nil)
	if _, err := c.Exchange(context.Background(), "BADCODE"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode, got %v", err)
	}
	if _, err := c.Exchange(context.Background(), "  "); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected ErrInvalidCode for blank code, got %v", err)
	}
}

func TestSubmitOutcomes(t *testing.T) {
	var seen captured
	ok := newBackend(t, http.StatusOK, `{"success":true}`, &seen)
	c, _ := New(Config{URL: ok.URL}, nil)
	if err := c.Submit(context.Background(), SubmitRequest{Code: "PLAY-123", Level: 1, Score: 8, ElapsedMS: 61000}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if seen.body["action"] != "submit" || seen.body["score"] != float64(8) || seen.body["elapsed_ms"] != float64(61000) || seen.body["level"] != float64(1) {
		t.Fatalf("unexpected submit body %v", seen.body)
	}

	dup := newBackend(t, http.StatusOK, `{"success":false,"reason":"already_submitted"}`, nil)
	c, _ = New(Config{URL: dup.URL}, nil)
	if err := c.Submit(context.Background(), SubmitRequest{Code: "x"}); !errors.Is(err, ErrAlreadySubmitted) {
		t.Fatalf("expected ErrAlreadySubmitted, got %v", err)
	}

	unauthorized := newBackend(t, http.StatusUnauthorized, `{"error":"unauthorized"}`, nil)
	c, _ = New(Config{URL: unauthorized.URL}, nil)
	err := c.Submit(context.Background(), SubmitRequest{Code: "x"})
	var rej *RejectedError
	if !errors.As(err, &rej) || rej.Code != "unauthorized" || rej.Status != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized rejection, got %v", err)
	}

	upstream := newBackend(t, http.StatusBadGateway, `{"error":"upstream_error","detail":"dial tcp"}`, nil)
	c, _ = New(Config{URL: upstream.URL}, nil)
	if err := c.Submit(context.Background(), SubmitRequest{Code: "x"}); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork for upstream error, got %v", err)
	}
}

func TestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, _ := New(Config{URL: url}, nil)
	if err := c.Submit(context.Background(), SubmitRequest{Code: "x"}); !errors.Is(err, ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestNewValidatesURL(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := New(Config{URL: "/relative"}, nil); err == nil {
		t.Fatalf("expected error for relative url")
	}
}
