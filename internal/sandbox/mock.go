package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// MockKernel is an in-process Kernel with scripted replies. It is what the
// "mock" runner mode hands out and what tests drive.
type MockKernel struct {
	mu      sync.Mutex
	work    string
	runs    map[string]Result
	effects map[string]map[string]Value
	evals   map[string]Value
	evalErr map[string]error
	history []string
	stopped bool
}

func NewMockKernel(workDir string) *MockKernel {
	return &MockKernel{
		work:    workDir,
		runs:    map[string]Result{},
		effects: map[string]map[string]Value{},
		evals:   map[string]Value{},
		evalErr: map[string]error{},
	}
}

// OnRun scripts the result for a code string. Surrounding whitespace is
// ignored when matching.
func (m *MockKernel) OnRun(code string, res Result) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[strings.TrimSpace(code)] = res
	return m
}

// OnRunSets scripts a run like OnRun and, once that code has run, makes each
// expression in values evaluate to its value.
func (m *MockKernel) OnRunSets(code string, res Result, values map[string]any) *MockKernel {
	set := make(map[string]Value, len(values))
	for expr, v := range values {
		set[expr] = mockValue(v)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.TrimSpace(code)
	m.runs[key] = res
	m.effects[key] = set
	return m
}

// OnEval scripts the value of an expression. v is JSON-encoded.
func (m *MockKernel) OnEval(expr string, v any) *MockKernel {
	val := mockValue(v)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evals[expr] = val
	delete(m.evalErr, expr)
	return m
}

func mockValue(v any) Value {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte("null")
	}
	return Value{Raw: raw, Repr: fmt.Sprint(v), Truthy: truthy(v)}
}

func (m *MockKernel) OnEvalError(expr, msg string) *MockKernel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evalErr[expr] = fmt.Errorf("%w: %s", ErrEvalFailed, msg)
	delete(m.evals, expr)
	return m
}

// History lists every code string and expression seen, in order.
func (m *MockKernel) History() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.history...)
}

func (m *MockKernel) Run(ctx context.Context, code string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return Result{}, ErrKernelDead
	}
	m.history = append(m.history, code)
	key := strings.TrimSpace(code)
	for expr, v := range m.effects[key] {
		m.evals[expr] = v
		delete(m.evalErr, expr)
	}
	return m.runs[key], nil
}

func (m *MockKernel) Eval(ctx context.Context, expr string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return Value{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return Value{}, ErrKernelDead
	}
	m.history = append(m.history, expr)
	if err, ok := m.evalErr[expr]; ok {
		return Value{}, err
	}
	if v, ok := m.evals[expr]; ok {
		return v, nil
	}
	return Value{}, fmt.Errorf("%w: NameError: %q is not scripted", ErrEvalFailed, expr)
}

func (m *MockKernel) Capabilities() Capabilities {
	return Capabilities{Python: "mock", Pandas: true, Matplotlib: true}
}

func (m *MockKernel) WorkDir() string { return m.work }

func (m *MockKernel) Stop(context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return nil
}

func (m *MockKernel) IsMock() bool { return true }

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case []string:
		return len(x) > 0
	case []any:
		return len(x) > 0
	default:
		return true
	}
}
