package proxy

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dataninja/internal/telemetry"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	gate    *Gate
	execURL string
	client  *http.Client
	logger  *telemetry.Logger
	limiter *clientLimiter
	engine  *gin.Engine
}

// NewHandler builds the gin engine serving the proxy. client may be nil.
func NewHandler(cfg Config, client *http.Client, logger *telemetry.Logger) *Handler {
	if client == nil {
		client = &http.Client{Timeout: cfg.UpstreamTimeout}
	}
	h := &Handler{
		gate:    NewGate(cfg),
		execURL: strings.TrimSpace(cfg.ExecURL),
		client:  client,
		logger:  logger,
	}
	if cfg.RateLimitRPS > 0 {
		h.limiter = newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("proxy.trusted_proxies_invalid", map[string]any{"error": err.Error()})
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery(), h.accessLog())
	r.Any("/*path", h.serve)
	h.engine = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.engine.ServeHTTP(w, r)
}

func (h *Handler) serve(c *gin.Context) {
	claimed := c.Query("origin")
	if claimed == "" {
		claimed = c.GetHeader("Origin")
	}
	d := h.gate.Decide(c.Request.Method, claimed, c.GetHeader("X-App-Key"))
	setCORS(c, d.AllowOrigin)

	switch d.Action {
	case ActionHealth:
		c.JSON(http.StatusOK, gin.H{"ok": true, "service": "dn-proxy"})
		return
	case ActionPreflight:
		c.Status(http.StatusNoContent)
		return
	case ActionReject:
		writeError(c, d.Status, d.Err, d.Detail)
		return
	}

	if h.limiter != nil && !h.limiter.allow(c.ClientIP()) {
		writeError(c, http.StatusTooManyRequests, "rate_limited", "")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "")
			return
		}
		writeError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	h.forward(c, claimed, body)
}

func (h *Handler) forward(c *gin.Context, claimed string, body []byte) {
	target := h.execURL
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	target += sep + "origin=" + url.QueryEscape(claimed)

	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		writeError(c, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := h.client.Do(req)
	if err != nil {
		h.logger.Error("proxy.upstream_failed", map[string]any{"error": err.Error()})
		writeError(c, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(c, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	c.Data(resp.StatusCode, "application/json", text)
}

func setCORS(c *gin.Context, allowOrigin string) {
	h := c.Writer.Header()
	if allowOrigin != "" {
		h.Set("Access-Control-Allow-Origin", allowOrigin)
	}
	h.Set("Vary", "Origin")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, X-App-Key")
	h.Set("Access-Control-Max-Age", "86400")
}

func writeError(c *gin.Context, status int, code, detail string) {
	body := gin.H{"error": code}
	if detail != "" {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(status, body)
}

func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Info("proxy.request", map[string]any{
			"method":      c.Request.Method,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"client":      c.ClientIP(),
		})
	}
}
