package proxy

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type Action int

const (
	ActionReject Action = iota
	ActionHealth
	ActionPreflight
	ActionForward
)

// Decision is the gate's verdict on one request.
type Decision struct {
	Action      Action
	Allowed     bool
	AllowOrigin string
	Status      int
	Err         string
	Detail      string
}

// Gate decides, without I/O, what to do with a request.
type Gate struct {
	allowed   map[string]struct{}
	execURL   string
	sharedKey string
}

func NewGate(cfg Config) *Gate {
	g := &Gate{
		allowed:   make(map[string]struct{}, len(cfg.AllowedOrigins)),
		execURL:   strings.TrimSpace(cfg.ExecURL),
		sharedKey: cfg.SharedKey,
	}
	for _, o := range cfg.AllowedOrigins {
		g.allowed[strings.TrimSpace(o)] = struct{}{}
	}
	return g
}

func (g *Gate) IsAllowed(origin string) bool {
	if origin == "" {
		return false
	}
	_, ok := g.allowed[origin]
	return ok
}

// Decide applies, in order: health, preflight, method, EXEC_URL presence,
// then the shared secret for origins outside the allow-list.
func (g *Gate) Decide(method, claimedOrigin, appKey string) Decision {
	d := Decision{Allowed: g.IsAllowed(claimedOrigin)}
	if d.Allowed {
		d.AllowOrigin = claimedOrigin
	}
	switch strings.ToUpper(method) {
	case http.MethodGet:
		d.Action, d.Status = ActionHealth, http.StatusOK
		return d
	case http.MethodOptions:
		d.Action, d.Status = ActionPreflight, http.StatusNoContent
		return d
	case http.MethodPost:
	default:
		return reject(d, http.StatusMethodNotAllowed, "method_not_allowed", "")
	}
	if g.execURL == "" {
		return reject(d, http.StatusInternalServerError, "config_missing", "EXEC_URL not set")
	}
	if !d.Allowed {
		if g.sharedKey == "" {
			return reject(d, http.StatusInternalServerError, "config_missing", "APP_SHARED_KEY not set")
		}
		if subtle.ConstantTimeCompare([]byte(appKey), []byte(g.sharedKey)) != 1 {
			return reject(d, http.StatusUnauthorized, "unauthorized", "")
		}
	}
	d.Action, d.Status = ActionForward, http.StatusOK
	return d
}

func reject(d Decision, status int, code, detail string) Decision {
	d.Action = ActionReject
	d.Status = status
	d.Err = code
	d.Detail = detail
	return d
}
