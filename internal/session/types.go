package session

import (
	"errors"
	"time"
)

const (
	DefaultDuration   = 20 * time.Minute
	DefaultWarnBefore = 5 * time.Minute
	DefaultTick       = 250 * time.Millisecond
)

var (
	ErrLocked           = errors.New("mission is locked")
	ErrUnknownMission   = errors.New("unknown mission")
	ErrSessionOver      = errors.New("session is over")
	ErrNotStarted       = errors.New("session not started")
	ErrSubmitInFlight   = errors.New("a submission is already in flight")
	ErrAlreadySubmitted = errors.New("score already submitted")
)

type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
	PhaseExpired  Phase = "expired"
)

// Over reports whether the phase is terminal.
func (p Phase) Over() bool { return p == PhaseFinished || p == PhaseExpired }

type Status string

const (
	StatusLocked     Status = "locked"
	StatusInProgress Status = "in_progress"
	StatusPassed     Status = "passed"
)

type MissionDef struct {
	ID     string
	Points int
}

type MissionState struct {
	ID       string
	Points   int
	Status   Status
	PassedAt time.Time
}

// Snapshot is a consistent copy of session state.
type Snapshot struct {
	ID        string
	Phase     Phase
	Score     int
	MaxScore  int
	StartedAt time.Time
	Elapsed   time.Duration
	Remaining time.Duration
	Missions  []MissionState
}

type Options struct {
	ID         string
	Duration   time.Duration
	WarnBefore time.Duration
	Tick       time.Duration
	Now        func() time.Time

	// OnWarn fires once when the remaining time first drops to WarnBefore.
	OnWarn func(remaining time.Duration)
	// OnExpire fires once if the clock runs out while the session is active.
	OnExpire func(Snapshot)
}
