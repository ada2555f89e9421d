package missions

import (
	"fmt"
	"io/fs"
	"regexp"
	"time"
)

const (
	PackKind               = "pack"
	SupportedSchemaVersion = 1
)

const (
	CheckExprTrue       = "expr_true"
	CheckExprContains   = "expr_contains"
	CheckPlotTicksEqual = "plot_ticks_equal"
)

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{1,63}$`)

type Pack struct {
	Kind          string        `yaml:"kind"`
	SchemaVersion int           `yaml:"schema_version"`
	PackID        string        `yaml:"pack_id"`
	Name          string        `yaml:"name"`
	Version       string        `yaml:"version"`
	Level         int           `yaml:"level"`
	DescriptionMD string        `yaml:"description_md"`
	Session       SessionSpec   `yaml:"session"`
	Datasets      []DatasetSpec `yaml:"datasets"`
	Missions      []Mission     `yaml:"missions"`

	Path string `yaml:"-"`
}

type SessionSpec struct {
	DurationSeconds int `yaml:"duration_seconds"`
	WarnSeconds     int `yaml:"warn_seconds"`
}

type DatasetSpec struct {
	Path        string `yaml:"path"`
	Description string `yaml:"description"`

	Content []byte `yaml:"-"`
}

type Mission struct {
	MissionID   string      `yaml:"mission_id"`
	Title       string      `yaml:"title"`
	Points      int         `yaml:"points"`
	SummaryMD   string      `yaml:"summary_md"`
	BriefingMD  string      `yaml:"briefing_md"`
	StarterCode string      `yaml:"starter_code"`
	Hints       []string    `yaml:"hints"`
	Checks      []CheckSpec `yaml:"checks"`
	Demo        *Demo       `yaml:"demo"`
}

// Demo is a worked solution used by the mock interpreter: running Code
// shows Display and TickLabels and leaves every check at its demo_value.
type Demo struct {
	Code       string   `yaml:"code"`
	Display    string   `yaml:"display"`
	TickLabels []string `yaml:"tick_labels"`
}

type CheckSpec struct {
	ID            string `yaml:"id"`
	Type          string `yaml:"type"`
	Description   string `yaml:"description"`
	OnFailMessage string `yaml:"on_fail_message"`
	OnPassMessage string `yaml:"on_pass_message"`

	Expr         string `yaml:"expr"`
	Expected     string `yaml:"expected"`
	ExpectedExpr string `yaml:"expected_expr"`
	Count        int    `yaml:"count"`

	DemoValue any `yaml:"demo_value"`
}

// Target is the expression whose value a check inspects.
func (c CheckSpec) Target() string {
	if c.Type == CheckPlotTicksEqual {
		return c.ExpectedExpr
	}
	return c.Expr
}

func (p Pack) Validate() error {
	if p.Kind != PackKind {
		return fmt.Errorf("kind must be %q", PackKind)
	}
	if p.SchemaVersion == 0 {
		return fmt.Errorf("schema_version is required")
	}
	if p.SchemaVersion > SupportedSchemaVersion {
		return fmt.Errorf("unsupported pack schema_version %d (max supported %d)", p.SchemaVersion, SupportedSchemaVersion)
	}
	if !idPattern.MatchString(p.PackID) {
		return fmt.Errorf("invalid pack_id %q", p.PackID)
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Version == "" {
		return fmt.Errorf("version is required")
	}
	if p.Session.DurationSeconds < 0 || p.Session.WarnSeconds < 0 {
		return fmt.Errorf("session durations must be >= 0")
	}
	if p.Session.DurationSeconds > 0 && p.Session.WarnSeconds >= p.Session.DurationSeconds {
		return fmt.Errorf("session.warn_seconds must be below duration_seconds")
	}
	for _, d := range p.Datasets {
		if d.Path == "" {
			return fmt.Errorf("datasets[].path is required")
		}
		if !fs.ValidPath(d.Path) || d.Path == "." {
			return fmt.Errorf("dataset path %q must be relative and inside the pack", d.Path)
		}
	}
	if len(p.Missions) == 0 {
		return fmt.Errorf("pack must define at least one mission")
	}
	seen := map[string]struct{}{}
	for _, m := range p.Missions {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mission %q: %w", m.MissionID, err)
		}
		if _, ok := seen[m.MissionID]; ok {
			return fmt.Errorf("duplicate mission_id %q", m.MissionID)
		}
		seen[m.MissionID] = struct{}{}
	}
	return nil
}

func (m Mission) Validate() error {
	if !idPattern.MatchString(m.MissionID) {
		return fmt.Errorf("invalid mission_id %q", m.MissionID)
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	if m.Points <= 0 {
		return fmt.Errorf("points must be >0")
	}
	if len(m.Checks) == 0 {
		return fmt.Errorf("mission must have at least one check")
	}
	seen := map[string]struct{}{}
	for _, c := range m.Checks {
		if c.ID == "" {
			return fmt.Errorf("checks[].id is required")
		}
		if _, ok := seen[c.ID]; ok {
			return fmt.Errorf("duplicate checks id %q", c.ID)
		}
		seen[c.ID] = struct{}{}
		switch c.Type {
		case CheckExprTrue:
			if c.Expr == "" {
				return fmt.Errorf("check %q requires expr", c.ID)
			}
		case CheckExprContains:
			if c.Expr == "" || c.Expected == "" {
				return fmt.Errorf("check %q requires expr and expected", c.ID)
			}
		case CheckPlotTicksEqual:
			if c.ExpectedExpr == "" {
				return fmt.Errorf("check %q requires expected_expr", c.ID)
			}
			if c.Count < 0 {
				return fmt.Errorf("check %q count must be >= 0", c.ID)
			}
		default:
			return fmt.Errorf("check %q has unknown type %q", c.ID, c.Type)
		}
		if m.Demo != nil && c.DemoValue == nil {
			return fmt.Errorf("check %q needs demo_value when the mission has a demo", c.ID)
		}
	}
	if m.Demo != nil && m.Demo.Code == "" {
		return fmt.Errorf("demo.code is required")
	}
	return nil
}

// Order returns mission IDs in play order.
func (p Pack) Order() []string {
	out := make([]string, 0, len(p.Missions))
	for _, m := range p.Missions {
		out = append(out, m.MissionID)
	}
	return out
}

func (p Pack) Mission(id string) (Mission, bool) {
	for _, m := range p.Missions {
		if m.MissionID == id {
			return m, true
		}
	}
	return Mission{}, false
}

func (p Pack) MaxScore() int {
	total := 0
	for _, m := range p.Missions {
		total += m.Points
	}
	return total
}

// Points maps mission ID to its point value.
func (p Pack) Points() map[string]int {
	out := make(map[string]int, len(p.Missions))
	for _, m := range p.Missions {
		out[m.MissionID] = m.Points
	}
	return out
}

func (p Pack) Duration() time.Duration {
	return time.Duration(p.Session.DurationSeconds) * time.Second
}

func (p Pack) WarnBefore() time.Duration {
	return time.Duration(p.Session.WarnSeconds) * time.Second
}

// Files returns dataset contents keyed by their pack-relative path.
func (p Pack) Files() map[string][]byte {
	out := make(map[string][]byte, len(p.Datasets))
	for _, d := range p.Datasets {
		out[d.Path] = d.Content
	}
	return out
}
