package ui

import "time"

// Prompter collects input for the play loop. The terminal implementation
// uses huh forms; tests script it.
type Prompter interface {
	SignInCode() (string, error)
	ChooseAction(state PlayingState) (Action, error)
	EditCode(title, initial string) (string, error)
	Confirm(title, description string) (bool, error)
}

type Action string

const (
	ActionRun      Action = "run"
	ActionCheck    Action = "check"
	ActionBriefing Action = "briefing"
	ActionHint     Action = "hint"
	ActionSubmit   Action = "submit"
	ActionReset    Action = "reset"
	ActionQuit     Action = "quit"
)

type LayoutMode int

const (
	LayoutWide LayoutMode = iota
	LayoutCompact
	LayoutNarrow
)

type PlayingState struct {
	PackName  string
	MissionID string
	Title     string
	Engine    string
	Score     int
	MaxScore  int
	Remaining time.Duration
	Phase     string
	Submitted bool
	Missions  []MissionRow
}

type MissionRow struct {
	ID     string
	Title  string
	Points int
	Status string
}

type OutputState struct {
	Text       string
	Display    string
	Error      string
	ImagePath  string
	TickLabels []string
	Duration   time.Duration
}

// Empty matches the interpreter's notion of a run with nothing to show.
func (o OutputState) Empty() bool {
	return isBlank(o.Text) && isBlank(o.Display) && o.Error == "" && o.ImagePath == ""
}

type CheckState struct {
	Passed      bool
	MissionName string
	Points      int
	Checks      []CheckResultRow
}

type CheckResultRow struct {
	ID      string
	Passed  bool
	Message string
}
