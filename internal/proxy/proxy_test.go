package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const allowedOrigin = "http://localhost:3000"

type upstreamCall struct {
	origin      string
	contentType string
	method      string
	body        string
}

// fakeBackend answers like the sign-in script: unknown codes are invalid.
func fakeBackend(t *testing.T) (*httptest.Server, func() []upstreamCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []upstreamCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, upstreamCall{
			origin:      r.URL.Query().Get("origin"),
			contentType: r.Header.Get("Content-Type"),
			method:      r.Method,
			body:        string(raw),
		})
		mu.Unlock()
		var req map[string]any
		_ = json.Unmarshal(raw, &req)
		w.Header().Set("Content-Type", "text/html")
		switch {
		case req["action"] == "exchange" && req["code"] == "GOOD":
			_, _ = io.WriteString(w, `{"ok":true,"code":"PLAY-1"}`)
		case req["action"] == "exchange":
			_, _ = io.WriteString(w, `{"ok":false,"error":"invalid_code"}`)
		default:
			_, _ = io.WriteString(w, `{"ok":false,"error":"unknown_action"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() []upstreamCall {
		mu.Lock()
		defer mu.Unlock()
		return append([]upstreamCall(nil), calls...)
	}
}

func testConfig(execURL string) Config {
	cfg := DefaultConfig()
	cfg.ExecURL = execURL
	cfg.SharedKey = "s3cret"
	return cfg
}

func do(t *testing.T, h http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	h := NewHandler(Config{}, nil, nil)
	rec := do(t, h, http.MethodGet, "/", "", map[string]string{"Origin": "https://evil.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode(t, rec)
	if got["ok"] != true || got["service"] != "dn-proxy" {
		t.Fatalf("unexpected health body %v", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin must not be reflected")
	}
}

func TestPreflight(t *testing.T) {
	h := NewHandler(testConfig("http://unused"), nil, nil)
	rec := do(t, h, http.MethodOptions, "/", "", map[string]string{"Origin": allowedOrigin})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	hdr := rec.Header()
	if hdr.Get("Access-Control-Allow-Origin") != allowedOrigin {
		t.Fatalf("expected allowed origin reflected, got %q", hdr.Get("Access-Control-Allow-Origin"))
	}
	if hdr.Get("Vary") != "Origin" ||
		hdr.Get("Access-Control-Allow-Methods") != "GET, POST, OPTIONS" ||
		hdr.Get("Access-Control-Allow-Headers") != "Content-Type, X-App-Key" ||
		hdr.Get("Access-Control-Max-Age") != "86400" {
		t.Fatalf("missing CORS headers: %v", hdr)
	}
}

func TestAllowedOriginForwardsWithoutSecret(t *testing.T) {
	backend, calls := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{"action":"exchange","code":"GOOD"}`, map[string]string{"Origin": allowedOrigin})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type, got %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != allowedOrigin {
		t.Fatalf("expected CORS origin on forwarded reply")
	}
	if got := decode(t, rec); got["code"] != "PLAY-1" {
		t.Fatalf("unexpected relay %v", got)
	}
	seen := calls()
	if len(seen) != 1 {
		t.Fatalf("expected 1 upstream call, got %d", len(seen))
	}
	if seen[0].origin != allowedOrigin || seen[0].contentType != "text/plain;charset=utf-8" || seen[0].method != http.MethodPost {
		t.Fatalf("unexpected upstream call %+v", seen[0])
	}
}

func TestOriginQueryParamWinsOverHeader(t *testing.T) {
	backend, calls := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	rec := do(t, h, http.MethodPost, "/?origin=https%3A%2F%2Fbendupey87.github.io", `{}`, map[string]string{"Origin": "https://evil.example"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://bendupey87.github.io" {
		t.Fatalf("expected query origin to be used")
	}
	if calls()[0].origin != "https://bendupey87.github.io" {
		t.Fatalf("expected query origin forwarded, got %q", calls()[0].origin)
	}
}

func TestForeignOriginNeedsSecret(t *testing.T) {
	backend, calls := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	foreign := map[string]string{"Origin": "https://evil.example"}

	rec := do(t, h, http.MethodPost, "/", `{}`, foreign)
	if rec.Code != http.StatusUnauthorized || decode(t, rec)["error"] != "unauthorized" {
		t.Fatalf("expected 401 unauthorized without key, got %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("disallowed origin must never be reflected")
	}

	rec = do(t, h, http.MethodPost, "/", `{}`, map[string]string{"Origin": "https://evil.example", "X-App-Key": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
	if len(calls()) != 0 {
		t.Fatalf("rejected requests must not reach the backend")
	}

	rec = do(t, h, http.MethodPost, "/", `{"action":"exchange","code":"GOOD"}`, map[string]string{"Origin": "https://evil.example", "X-App-Key": "s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected forward with correct key, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("authenticated foreign origin is still not reflected")
	}
}

func TestNoOriginBehavesLikeForeign(t *testing.T) {
	backend, _ := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing origin and key, got %d", rec.Code)
	}
}

func TestConfigMissing(t *testing.T) {
	cfg := testConfig("")
	h := NewHandler(cfg, nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{}`, map[string]string{"Origin": allowedOrigin})
	got := decode(t, rec)
	if rec.Code != http.StatusInternalServerError || got["error"] != "config_missing" || got["detail"] != "EXEC_URL not set" {
		t.Fatalf("expected EXEC_URL config_missing, got %d %v", rec.Code, got)
	}

	cfg = testConfig("http://unused")
	cfg.SharedKey = ""
	h = NewHandler(cfg, nil, nil)
	rec = do(t, h, http.MethodPost, "/", `{}`, map[string]string{"Origin": "https://evil.example", "X-App-Key": "anything"})
	got = decode(t, rec)
	if rec.Code != http.StatusInternalServerError || got["detail"] != "APP_SHARED_KEY not set" {
		t.Fatalf("expected APP_SHARED_KEY config_missing, got %d %v", rec.Code, got)
	}
}

func TestEmptyBodyForwardedAsEmptyObject(t *testing.T) {
	backend, calls := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	do(t, h, http.MethodPost, "/", "", map[string]string{"Origin": allowedOrigin})
	if got := calls(); len(got) != 1 || got[0].body != "{}" {
		t.Fatalf("expected {} forwarded, got %+v", got)
	}
}

func TestExchangeBadCodeIsRelayed(t *testing.T) {
	backend, _ := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{"action":"exchange","code":"BADCODE"}`, map[string]string{"Origin": allowedOrigin})
	got := decode(t, rec)
	if got["ok"] != false || got["error"] != "invalid_code" {
		t.Fatalf("expected invalid_code relay, got %v", got)
	}
}

func TestUpstreamFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	dead := "http://" + ln.Addr().String()
	_ = ln.Close()

	h := NewHandler(testConfig(dead), nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{}`, map[string]string{"Origin": allowedOrigin})
	got := decode(t, rec)
	if rec.Code != http.StatusBadGateway || got["error"] != "upstream_error" || got["detail"] == "" {
		t.Fatalf("expected 502 upstream_error, got %d %v", rec.Code, got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != allowedOrigin {
		t.Fatalf("error replies still carry CORS headers")
	}
}

func TestUpstreamStatusRelayed(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"busy"}`)
	}))
	defer backend.Close()
	h := NewHandler(testConfig(backend.URL), nil, nil)
	rec := do(t, h, http.MethodPost, "/", `{}`, map[string]string{"Origin": allowedOrigin})
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != `{"error":"busy"}` {
		t.Fatalf("expected upstream status and body relayed, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewHandler(testConfig("http://unused"), nil, nil)
	rec := do(t, h, http.MethodDelete, "/", "", map[string]string{"Origin": allowedOrigin})
	if rec.Code != http.StatusMethodNotAllowed || decode(t, rec)["error"] != "method_not_allowed" {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	backend, _ := fakeBackend(t)
	cfg := testConfig(backend.URL)
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 2
	h := NewHandler(cfg, nil, nil)
	hdr := map[string]string{"Origin": allowedOrigin}
	for i := 0; i < 2; i++ {
		if rec := do(t, h, http.MethodPost, "/", `{}`, hdr); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := do(t, h, http.MethodPost, "/", `{}`, hdr)
	if rec.Code != http.StatusTooManyRequests || decode(t, rec)["error"] != "rate_limited" {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/", "", hdr); rec.Code != http.StatusOK {
		t.Fatalf("health checks are not rate limited, got %d", rec.Code)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	backend, calls := fakeBackend(t)
	h := NewHandler(testConfig(backend.URL), nil, nil)
	body := `{"action":"submit","pad":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := do(t, h, http.MethodPost, "/", body, map[string]string{"Origin": allowedOrigin})
	if rec.Code != http.StatusRequestEntityTooLarge || decode(t, rec)["error"] != "payload_too_large" {
		t.Fatalf("expected 413 payload_too_large, got %d %s", rec.Code, rec.Body.String())
	}
	if n := len(calls()); n != 0 {
		t.Fatalf("oversized body must not reach the upstream, got %d calls", n)
	}
}

func TestForwardedForDoesNotDodgeRateLimit(t *testing.T) {
	backend, _ := fakeBackend(t)
	cfg := testConfig(backend.URL)
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	h := NewHandler(cfg, nil, nil)
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/", `{}`, map[string]string{
			"Origin":          allowedOrigin,
			"X-Forwarded-For": "203.0.113." + strconv.Itoa(i+1),
		})
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not reset the limit, got %v", codes)
	}
}

func TestTrustedProxyForwardedForIsHonored(t *testing.T) {
	backend, _ := fakeBackend(t)
	cfg := testConfig(backend.URL)
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	// httptest requests come from 192.0.2.1.
	cfg.TrustedProxies = []string{"192.0.2.0/24"}
	h := NewHandler(cfg, nil, nil)
	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/", `{}`, map[string]string{
			"Origin":          allowedOrigin,
			"X-Forwarded-For": "203.0.113." + strconv.Itoa(i+1),
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("client %d behind a trusted proxy: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestGateDecisions(t *testing.T) {
	g := NewGate(testConfig("http://exec"))
	cases := []struct {
		method, origin, key string
		action              Action
		status              int
	}{
		{"GET", "", "", ActionHealth, 200},
		{"OPTIONS", "https://evil.example", "", ActionPreflight, 204},
		{"POST", allowedOrigin, "", ActionForward, 200},
		{"POST", "https://evil.example", "s3cret", ActionForward, 200},
		{"POST", "https://evil.example", "s3cre", ActionReject, 401},
		{"PUT", allowedOrigin, "", ActionReject, 405},
	}
	for _, tc := range cases {
		d := g.Decide(tc.method, tc.origin, tc.key)
		if d.Action != tc.action || d.Status != tc.status {
			t.Fatalf("%s %q key=%q: got action=%d status=%d", tc.method, tc.origin, tc.key, d.Action, d.Status)
		}
		if !d.Allowed && d.AllowOrigin != "" {
			t.Fatalf("disallowed origin reflected: %+v", d)
		}
	}
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("EXEC_URL=http://file-exec\nAPP_SHARED_KEY=fromfile\nRATE_LIMIT_RPS=2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("APP_SHARED_KEY", "fromenv")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.0/12")
	// godotenv sets variables absent from the environment; register them for cleanup.
	t.Setenv("EXEC_URL", "")
	_ = os.Unsetenv("EXEC_URL")
	t.Setenv("RATE_LIMIT_RPS", "")
	_ = os.Unsetenv("RATE_LIMIT_RPS")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ExecURL != "http://file-exec" || cfg.SharedKey != "fromenv" || cfg.RateLimitRPS != 2 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" {
		t.Fatalf("unexpected trusted proxies %v", cfg.TrustedProxies)
	}
	if cfg.ListenAddr != ":8787" || cfg.UpstreamTimeout != 20*time.Second {
		t.Fatalf("defaults not applied: %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestServerShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig("http://unused")
	cfg.ListenAddr = ln.Addr().String()
	srv := NewServer(cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
