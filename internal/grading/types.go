package grading

import (
	"time"

	"dataninja/internal/sandbox"
)

const (
	ResultKind    = "check_result"
	SchemaVersion = 1
)

type Request struct {
	AppVersion  string
	PackID      string
	PackVersion string
	MissionID   string
	SessionID   string

	Attempt    int
	StartedAt  time.Time
	FinishedAt time.Time

	Points int
	Checks []CheckSpec

	// LastRun is the mission's most recent run, if any. Plot checks read it.
	LastRun *sandbox.Result
}

type CheckSpec struct {
	ID            string
	Type          string
	Description   string
	OnFailMessage string
	OnPassMessage string

	Expr         string
	Expected     string
	ExpectedExpr string
	Count        int
}

type Result struct {
	Kind          string `json:"kind"`
	SchemaVersion int    `json:"schema_version"`

	AppVersion  string `json:"app_version,omitempty"`
	PackID      string `json:"pack_id"`
	PackVersion string `json:"pack_version"`
	MissionID   string `json:"mission_id"`

	Run           RunInfo       `json:"run"`
	Passed        bool          `json:"passed"`
	PointsAwarded int           `json:"points_awarded"`
	Checks        []CheckResult `json:"checks"`
	Artifacts     []Artifact    `json:"artifacts,omitempty"`
}

type RunInfo struct {
	SessionID        string `json:"session_id"`
	Attempt          int    `json:"attempt"`
	StartedAtUnixMS  int64  `json:"started_at_unix_ms"`
	FinishedAtUnixMS int64  `json:"finished_at_unix_ms"`
	DurationMS       int64  `json:"duration_ms"`
}

type CheckResult struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Passed    bool          `json:"passed"`
	Summary   string        `json:"summary,omitempty"`
	Message   string        `json:"message,omitempty"`
	Artifacts []ArtifactRef `json:"artifacts,omitempty"`
}

type ArtifactRef struct {
	Kind string `json:"kind"`
	Ref  string `json:"ref"`
}

type Artifact struct {
	Ref         string `json:"ref"`
	Kind        string `json:"kind"`
	Title       string `json:"title,omitempty"`
	TextPreview string `json:"text_preview,omitempty"`
}

// FirstFailure returns the message of the first failed check, or "".
func (r Result) FirstFailure() string {
	for _, c := range r.Checks {
		if !c.Passed {
			return c.Message
		}
	}
	return ""
}

type evaluation struct {
	Passed   bool
	Summary  string
	Message  string
	Artifact *Artifact
}
