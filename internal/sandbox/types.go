package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrKernelDead = errors.New("interpreter is not running")
	ErrRunTimeout = errors.New("run timed out")
	ErrEvalFailed = errors.New("expression failed")
)

type EngineInfo struct {
	Name    string
	Path    string
	Version string
}

type StartSpec struct {
	SessionID string
	WorkDir   string
	Files     map[string][]byte
	Env       map[string]string

	RunTimeout   time.Duration
	StartTimeout time.Duration
}

type Capabilities struct {
	Python     string `json:"python"`
	Pandas     bool   `json:"pandas"`
	Matplotlib bool   `json:"matplotlib"`
}

// Result is everything one run produced.
type Result struct {
	Text       string   `json:"text"`
	Display    string   `json:"display"`
	HTML       string   `json:"html"`
	ImagePNG   string   `json:"image_png"`
	TickLabels []string `json:"tick_labels"`
	Error      string   `json:"error"`

	Duration time.Duration `json:"-"`
}

// Empty reports whether the run produced nothing worth showing.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Text) == "" &&
		strings.TrimSpace(r.Display) == "" &&
		strings.TrimSpace(r.HTML) == "" &&
		r.ImagePNG == "" &&
		r.Error == ""
}

func (r Result) HasImage() bool { return r.ImagePNG != "" }

func (r Result) Failed() bool { return r.Error != "" }

// Value is the outcome of evaluating one expression.
type Value struct {
	Raw    json.RawMessage
	Repr   string
	Truthy bool
}

func (v Value) String() string { return v.Repr }

// Strings decodes a list value, stringifying non-string items.
func (v Value) Strings() ([]string, error) {
	var items []any
	if err := json.Unmarshal(v.Raw, &items); err != nil {
		return nil, fmt.Errorf("value %s is not a list: %w", v.Repr, err)
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch s := it.(type) {
		case string:
			out = append(out, s)
		case nil:
			out = append(out, "None")
		default:
			out = append(out, fmt.Sprint(s))
		}
	}
	return out, nil
}
