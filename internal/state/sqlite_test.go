package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "nested", "state.db"))
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// Idempotent.
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}
	return store
}

func TestSessionLifecycleAndListing(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	start := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

	if err := store.StartSession(ctx, SessionRecord{ID: "older", PackID: "pandas-basics", Engine: "mock", MaxScore: 14, StartTS: start.Add(-time.Hour)}); err != nil {
		t.Fatalf("start older: %v", err)
	}
	if err := store.StartSession(ctx, SessionRecord{ID: "s1", PackID: "pandas-basics", PackVersion: "1.0.0", Engine: "python3", MaxScore: 14, StartTS: start}); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := store.RecordRun(ctx, RunRecord{SessionID: "s1", MissionID: "m1", TS: start.Add(time.Minute), DurationMS: 120}); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := store.RecordRun(ctx, RunRecord{SessionID: "s1", MissionID: "m1", TS: start.Add(2 * time.Minute), Failed: true}); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if err := store.RecordCheckAttempt(ctx, "s1", "m1", false, start.Add(3*time.Minute)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := store.RecordCheckAttempt(ctx, "s1", "m1", true, start.Add(4*time.Minute)); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if err := store.IncrementReset(ctx, "s1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := store.RecordSubmission(ctx, Submission{SessionID: "s1", Level: 1, Score: 2, ElapsedMS: 240000, Outcome: "network_error", TS: start.Add(5 * time.Minute)}); err != nil {
		t.Fatalf("submission: %v", err)
	}
	if err := store.RecordSubmission(ctx, Submission{SessionID: "s1", Level: 1, Score: 2, ElapsedMS: 250000, Outcome: OutcomeAccepted, TS: start.Add(6 * time.Minute)}); err != nil {
		t.Fatalf("submission: %v", err)
	}
	if err := store.EndSession(ctx, "s1", "finished", 2, start.Add(6*time.Minute)); err != nil {
		t.Fatalf("end session: %v", err)
	}

	list, err := store.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}
	got := list[0]
	if got.ID != "s1" {
		t.Fatalf("expected newest session first, got %s", got.ID)
	}
	if got.Runs != 2 || got.Attempts != 2 || got.Passes != 1 || got.Resets != 1 {
		t.Fatalf("unexpected counters %+v", got)
	}
	if !got.Submitted || got.LastOutcome != OutcomeAccepted {
		t.Fatalf("expected accepted submission, got %+v", got)
	}
	if got.Phase != "finished" || got.Score != 2 || got.MaxScore != 14 {
		t.Fatalf("unexpected session result %+v", got)
	}
	if !got.StartTS.Equal(start) || !got.EndTS.Equal(start.Add(6*time.Minute)) {
		t.Fatalf("unexpected timestamps %s %s", got.StartTS, got.EndTS)
	}
	if list[1].Submitted || list[1].Phase != "active" {
		t.Fatalf("older session should be untouched, got %+v", list[1])
	}

	sum, err := store.GetSummary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Sessions != 2 || sum.Runs != 2 || sum.Attempts != 2 || sum.Passes != 1 || sum.Submissions != 2 || sum.BestScore != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestMissionProgressUpsert(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

	updates := []MissionProgressUpdate{
		{MissionID: "m1", Passed: false, LastPlayedTS: now},
		{MissionID: "m1", Passed: true, DurationMS: 90000, LastPlayedTS: now.Add(time.Minute)},
		{MissionID: "m1", Passed: true, DurationMS: 60000, LastPlayedTS: now.Add(time.Hour)},
		{MissionID: "m1", Passed: true, DurationMS: 120000, LastPlayedTS: now.Add(2 * time.Hour)},
		{MissionID: "m1", Passed: false, LastPlayedTS: now.Add(3 * time.Hour)},
	}
	for _, u := range updates {
		if err := store.UpsertMissionProgress(ctx, u); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	progress, err := store.GetMissionProgressMap(ctx)
	if err != nil {
		t.Fatalf("progress map: %v", err)
	}
	p, ok := progress["m1"]
	if !ok {
		t.Fatalf("expected m1 progress")
	}
	if p.PassedCount != 3 || p.BestTimeMS != 60000 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if !p.LastPlayedTS.Equal(now.Add(3*time.Hour)) || !p.LastPassedTS.Equal(now.Add(2*time.Hour)) {
		t.Fatalf("unexpected timestamps %+v", p)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	if err := store.SaveSettings(ctx, map[string]string{"last_engine": "python3", " ": "skip"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveSettings(ctx, map[string]string{"last_engine": "mock"}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got["last_engine"] != "mock" {
		t.Fatalf("unexpected settings %v", got)
	}
}
