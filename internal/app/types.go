package app

import (
	"errors"
	"time"

	"dataninja/internal/grading"
	"dataninja/internal/sandbox"
	"dataninja/internal/session"
)

var (
	ErrNotStarted  = errors.New("training has not started")
	ErrNotSignedIn = errors.New("not signed in")
)

type SubmitOutcome string

const (
	OutcomeAccepted         SubmitOutcome = "accepted"
	OutcomeAlreadySubmitted SubmitOutcome = "already_submitted"
	OutcomeInvalidCode      SubmitOutcome = "invalid_code"
	OutcomeNetworkError     SubmitOutcome = "network_error"
	OutcomeRejected         SubmitOutcome = "rejected"
	OutcomeBusy             SubmitOutcome = "busy"
	OutcomeSkipped          SubmitOutcome = "skipped"
)

// Closes reports whether the outcome ends all further submissions.
func (o SubmitOutcome) Closes() bool {
	return o == OutcomeAccepted || o == OutcomeAlreadySubmitted || o == OutcomeSkipped
}

type RunOutcome struct {
	MissionID string
	Result    sandbox.Result
	ImagePath string
}

type CheckOutcome struct {
	MissionID   string
	Result      grading.Result
	NewlyPassed bool
	Finished    bool
	Score       int
}

type SubmitReport struct {
	Outcome   SubmitOutcome
	Auto      bool
	Score     int
	MaxScore  int
	ElapsedMS int64
	Err       error
}

type EventKind int

const (
	EventWarning EventKind = iota
	EventExpired
)

// Event is something the clock did while the player was busy.
type Event struct {
	Kind      EventKind
	At        time.Time
	Remaining time.Duration
	Snapshot  session.Snapshot
	Submit    *SubmitReport
}
