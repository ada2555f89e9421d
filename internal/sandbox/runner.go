package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

//go:embed harness.py
var harnessSource []byte

const (
	harnessDir  = ".dataninja"
	harnessName = "harness.py"

	defaultRunTimeout   = 30 * time.Second
	defaultStartTimeout = 60 * time.Second
)

type Manager struct {
	mode        string
	interpreter string
}

func NewManager(mode string) *Manager {
	if mode == "" {
		mode = "auto"
	}
	return &Manager{mode: mode}
}

func (m *Manager) Detect(ctx context.Context, forceInterpreter string) (EngineInfo, error) {
	if m.mode == "mock" {
		m.interpreter = "mock"
		return EngineInfo{Name: "mock", Version: "builtin"}, nil
	}

	if forceInterpreter != "" {
		path, err := validateInterpreter(ctx, forceInterpreter)
		if err != nil {
			return EngineInfo{}, err
		}
		m.interpreter = path
		return readVersion(ctx, forceInterpreter, path)
	}

	for _, name := range []string{"python3", "python"} {
		path, err := validateInterpreter(ctx, name)
		if err != nil {
			continue
		}
		m.interpreter = path
		return readVersion(ctx, name, path)
	}
	return EngineInfo{}, errors.New("neither python3 nor python is available")
}

func validateInterpreter(ctx context.Context, name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	out, err := exec.CommandContext(ctx, path, "-c", "import sys; sys.exit(0 if sys.version_info >= (3, 8) else 1)").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s is not python >= 3.8: %s", name, strings.TrimSpace(string(out)))
	}
	return path, nil
}

func readVersion(ctx context.Context, name, path string) (EngineInfo, error) {
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return EngineInfo{}, fmt.Errorf("%s --version failed: %w", name, err)
	}
	return EngineInfo{Name: name, Path: path, Version: strings.TrimSpace(string(out))}, nil
}

// Start stages the work directory and boots a kernel. Detect must run first
// unless the manager is in mock mode.
func (m *Manager) Start(ctx context.Context, spec StartSpec) (Kernel, error) {
	if spec.WorkDir == "" {
		return nil, errors.New("work dir is required")
	}
	if err := stageWorkDir(spec.WorkDir, spec.Files); err != nil {
		return nil, fmt.Errorf("stage work dir: %w", err)
	}
	if m.mode == "mock" || m.interpreter == "mock" {
		return NewMockKernel(spec.WorkDir), nil
	}
	if m.interpreter == "" {
		return nil, errors.New("no interpreter detected")
	}

	harness := filepath.Join(spec.WorkDir, harnessDir, harnessName)
	if err := os.MkdirAll(filepath.Dir(harness), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(harness, harnessSource, 0o644); err != nil {
		return nil, err
	}

	if spec.RunTimeout <= 0 {
		spec.RunTimeout = defaultRunTimeout
	}
	if spec.StartTimeout <= 0 {
		spec.StartTimeout = defaultStartTimeout
	}

	env := append(os.Environ(),
		"MPLBACKEND=Agg",
		"PYTHONIOENCODING=utf-8",
		"PYTHONUNBUFFERED=1",
		"DATANINJA_SESSION_ID="+spec.SessionID,
	)
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	k, err := startProcessKernel(ctx, m.interpreter, harness, spec, env)
	if err != nil {
		return nil, err
	}
	return k, nil
}

func stageWorkDir(workDir string, files map[string][]byte) error {
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	for name, body := range files {
		target := filepath.Join(workDir, filepath.FromSlash(name))
		rel, err := filepath.Rel(workDir, target)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("file %q escapes the work dir", name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, body, 0o644); err != nil {
			return err
		}
	}
	return nil
}
