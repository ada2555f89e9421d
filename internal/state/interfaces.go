package state

import (
	"context"
	"time"
)

type Store interface {
	EnsureSchema(ctx context.Context) error
	StartSession(ctx context.Context, rec SessionRecord) error
	EndSession(ctx context.Context, sessionID, phase string, score int, endTS time.Time) error
	IncrementReset(ctx context.Context, sessionID string) error
	RecordRun(ctx context.Context, run RunRecord) error
	RecordCheckAttempt(ctx context.Context, sessionID, missionID string, passed bool, at time.Time) error
	UpsertMissionProgress(ctx context.Context, update MissionProgressUpdate) error
	GetMissionProgressMap(ctx context.Context) (map[string]MissionProgress, error)
	RecordSubmission(ctx context.Context, sub Submission) error
	SaveSettings(ctx context.Context, values map[string]string) error
	LoadSettings(ctx context.Context) (map[string]string, error)
	ListSessions(ctx context.Context, limit int) ([]SessionSummary, error)
	GetSummary(ctx context.Context) (Summary, error)
	Close() error
}

type SessionRecord struct {
	ID          string
	PackID      string
	PackVersion string
	Engine      string
	MaxScore    int
	StartTS     time.Time
}

type RunRecord struct {
	SessionID  string
	MissionID  string
	TS         time.Time
	DurationMS int64
	Failed     bool
	HasImage   bool
}

type MissionProgress struct {
	MissionID    string
	PassedCount  int
	BestTimeMS   int64
	LastPlayedTS time.Time
	LastPassedTS time.Time
}

// MissionProgressUpdate records one check outcome. DurationMS is the time
// from session start to the pass and only counts when Passed is set.
type MissionProgressUpdate struct {
	MissionID    string
	Passed       bool
	DurationMS   int64
	LastPlayedTS time.Time
}

type Submission struct {
	SessionID string
	Level     int
	Score     int
	ElapsedMS int64
	Auto      bool
	Outcome   string
	TS        time.Time
}

type SessionSummary struct {
	ID          string
	PackID      string
	Engine      string
	StartTS     time.Time
	EndTS       time.Time
	Phase       string
	Score       int
	MaxScore    int
	Resets      int
	Runs        int
	Attempts    int
	Passes      int
	Submitted   bool
	LastOutcome string
}

type Summary struct {
	Sessions    int
	Runs        int
	Attempts    int
	Passes      int
	Submissions int
	BestScore   int
}
