package proxy

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config mirrors the proxy's environment. EXEC_URL and APP_SHARED_KEY may be
// empty at startup; requests that need them answer config_missing.
type Config struct {
	ExecURL         string        `env:"EXEC_URL"`
	SharedKey       string        `env:"APP_SHARED_KEY"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000,https://bendupey87.github.io"`
	ListenAddr      string        `env:"LISTEN_ADDR" envDefault:":8787"`
	RateLimitRPS    float64       `env:"RATE_LIMIT_RPS" envDefault:"0"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST" envDefault:"10"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"20s"`

	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed when
	// rate limiting. Empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

func DefaultConfig() Config {
	return Config{
		AllowedOrigins:  []string{"http://localhost:3000", "https://bendupey87.github.io"},
		ListenAddr:      ":8787",
		RateLimitBurst:  10,
		UpstreamTimeout: 20 * time.Second,
	}
}

// LoadConfig reads envFile into the process environment when it exists, then
// parses the environment. Variables already set win over the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse proxy env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must be >= 0")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return errors.New("RATE_LIMIT_BURST must be > 0 when rate limiting")
	}
	if c.UpstreamTimeout <= 0 {
		return errors.New("UPSTREAM_TIMEOUT must be > 0")
	}
	for _, o := range c.AllowedOrigins {
		if strings.TrimSpace(o) == "" {
			return errors.New("ALLOWED_ORIGINS contains an empty entry")
		}
	}
	return nil
}
