package app

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

const envPrefix = "DATANINJA_"

// Config controls runtime behavior for the play loop.
type Config struct {
	DataDir     string        `env:"DATA_DIR"`
	LogPath     string        `env:"LOG_PATH"`
	SandboxMode string        `env:"SANDBOX"`
	Interpreter string        `env:"PYTHON"`
	PacksDir    string        `env:"PACKS_DIR"`
	PackID      string        `env:"PACK"`
	RunTimeout  time.Duration `env:"RUN_TIMEOUT"`
	Offline     bool          `env:"OFFLINE"`
	Backend     BackendConfig `envPrefix:"API_"`
	UI          UIConfig      `envPrefix:"UI_"`

	// RememberPack lets Open replace PackID with the pack played last.
	RememberPack bool
}

type BackendConfig struct {
	URL         string        `env:"URL"`
	Origin      string        `env:"ORIGIN"`
	AppKey      string        `env:"KEY"`
	Timeout     time.Duration `env:"TIMEOUT"`
	SubmitLevel int           `env:"SUBMIT_LEVEL"`
}

type UIConfig struct {
	StyleVariant string `env:"STYLE"`
	Accessible   bool   `env:"ACCESSIBLE"`
	Width        int    `env:"WIDTH"`
}

func DefaultConfig() Config {
	return Config{
		SandboxMode: "auto",
		PackID:      "pandas-basics",
		RunTimeout:  30 * time.Second,
		Backend: BackendConfig{
			Origin:      "http://localhost:3000",
			Timeout:     15 * time.Second,
			SubmitLevel: 1,
		},
		UI: UIConfig{
			StyleVariant: "ninja",
		},
	}
}

// LoadEnv overlays DATANINJA_* variables onto c. Unset variables leave the
// current values alone.
func (c *Config) LoadEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse %s* env: %w", envPrefix, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.SandboxMode {
	case "", "auto", "python", "mock":
	default:
		return fmt.Errorf("invalid sandbox mode %q", c.SandboxMode)
	}
	if c.SandboxMode == "" {
		c.SandboxMode = "auto"
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.PackID == "" {
		c.PackID = "pandas-basics"
	}

	if !c.Offline {
		if c.Backend.URL == "" {
			return errors.New("backend url is required unless offline (set DATANINJA_API_URL or --offline)")
		}
		u, err := url.Parse(c.Backend.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid backend url %q", c.Backend.URL)
		}
	}
	if c.Backend.SubmitLevel <= 0 {
		c.Backend.SubmitLevel = 1
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 15 * time.Second
	}

	switch c.UI.StyleVariant {
	case "", "ninja", "paper", "plain":
	default:
		return fmt.Errorf("invalid ui style variant %q", c.UI.StyleVariant)
	}
	if c.UI.StyleVariant == "" {
		c.UI.StyleVariant = "ninja"
	}

	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.New("cannot resolve user home directory")
		}
		c.DataDir = filepath.Join(home, ".local", "share", "dataninja")
	}
	return nil
}
