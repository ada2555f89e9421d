package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	OutcomeAccepted         = "accepted"
	OutcomeAlreadySubmitted = "already_submitted"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The timer goroutine and the prompt loop both write; one connection
	// keeps sqlite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			pack_id TEXT NOT NULL,
			pack_version TEXT NOT NULL DEFAULT '',
			engine TEXT NOT NULL DEFAULT '',
			max_score INTEGER NOT NULL DEFAULT 0,
			start_ts TEXT NOT NULL,
			end_ts TEXT NOT NULL DEFAULT '',
			phase TEXT NOT NULL DEFAULT 'active',
			score INTEGER NOT NULL DEFAULT 0,
			resets INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			mission_id TEXT NOT NULL,
			run_ts TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			has_image INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS check_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			mission_id TEXT NOT NULL,
			attempt_ts TEXT NOT NULL,
			passed INTEGER NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS mission_progress (
			mission_id TEXT PRIMARY KEY,
			passed_count INTEGER NOT NULL DEFAULT 0,
			best_time_ms INTEGER NOT NULL DEFAULT 0,
			last_played_ts TEXT NOT NULL DEFAULT '',
			last_passed_ts TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			score INTEGER NOT NULL,
			elapsed_ms INTEGER NOT NULL,
			auto INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL,
			submit_ts TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id)
		);`,
		`CREATE TABLE IF NOT EXISTS app_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session ON runs(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_session ON check_attempts(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) StartSession(ctx context.Context, rec SessionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("start session: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, pack_id, pack_version, engine, max_score, start_ts) VALUES(?,?,?,?,?,?)`,
		rec.ID,
		rec.PackID,
		rec.PackVersion,
		rec.Engine,
		max(0, rec.MaxScore),
		formatTS(rec.StartTS),
	)
	return err
}

func (s *SQLiteStore) EndSession(ctx context.Context, sessionID, phase string, score int, endTS time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET phase = ?, score = ?, end_ts = ? WHERE id = ?`,
		phase, max(0, score), formatTS(endTS), sessionID,
	)
	return err
}

func (s *SQLiteStore) IncrementReset(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET resets = resets + 1 WHERE id = ?`, sessionID)
	return err
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(session_id, mission_id, run_ts, duration_ms, failed, has_image) VALUES(?,?,?,?,?,?)`,
		run.SessionID,
		run.MissionID,
		formatTS(run.TS),
		max(0, run.DurationMS),
		boolInt(run.Failed),
		boolInt(run.HasImage),
	)
	return err
}

func (s *SQLiteStore) RecordCheckAttempt(ctx context.Context, sessionID, missionID string, passed bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO check_attempts(session_id, mission_id, attempt_ts, passed) VALUES(?,?,?,?)`,
		sessionID, missionID, formatTS(at), boolInt(passed),
	)
	return err
}

func (s *SQLiteStore) UpsertMissionProgress(ctx context.Context, update MissionProgressUpdate) error {
	missionID := strings.TrimSpace(update.MissionID)
	if missionID == "" {
		return nil
	}
	playTS := formatTS(update.LastPlayedTS)
	passTS := ""
	bestTime := int64(0)
	if update.Passed {
		passTS = playTS
		bestTime = max(0, update.DurationMS)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mission_progress(mission_id, passed_count, best_time_ms, last_played_ts, last_passed_ts)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(mission_id) DO UPDATE SET
			passed_count = mission_progress.passed_count + excluded.passed_count,
			best_time_ms = CASE
				WHEN excluded.best_time_ms > 0 AND (mission_progress.best_time_ms = 0 OR excluded.best_time_ms < mission_progress.best_time_ms) THEN excluded.best_time_ms
				ELSE mission_progress.best_time_ms
			END,
			last_played_ts = excluded.last_played_ts,
			last_passed_ts = CASE
				WHEN excluded.last_passed_ts <> '' THEN excluded.last_passed_ts
				ELSE mission_progress.last_passed_ts
			END
	`,
		missionID,
		boolInt(update.Passed),
		bestTime,
		playTS,
		passTS,
	)
	return err
}

func (s *SQLiteStore) GetMissionProgressMap(ctx context.Context) (map[string]MissionProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mission_id, passed_count, best_time_ms, last_played_ts, last_passed_ts
		FROM mission_progress
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]MissionProgress{}
	for rows.Next() {
		var (
			p                      MissionProgress
			lastPlayed, lastPassed string
		)
		if err := rows.Scan(&p.MissionID, &p.PassedCount, &p.BestTimeMS, &lastPlayed, &lastPassed); err != nil {
			return nil, err
		}
		p.LastPlayedTS = parseTS(lastPlayed)
		p.LastPassedTS = parseTS(lastPassed)
		out[p.MissionID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) RecordSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions(session_id, level, score, elapsed_ms, auto, outcome, submit_ts) VALUES(?,?,?,?,?,?,?)`,
		sub.SessionID,
		sub.Level,
		max(0, sub.Score),
		max(0, sub.ElapsedMS),
		boolInt(sub.Auto),
		sub.Outcome,
		formatTS(sub.TS),
	)
	return err
}

func (s *SQLiteStore) SaveSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for key, value := range values {
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO app_settings(key, value) VALUES(?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, value); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

func (s *SQLiteStore) LoadSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM app_settings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSessions returns the most recent sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.id, s.pack_id, s.engine, s.start_ts, s.end_ts, s.phase, s.score, s.max_score, s.resets,
			(SELECT COUNT(*) FROM runs r WHERE r.session_id = s.id),
			(SELECT COUNT(*) FROM check_attempts c WHERE c.session_id = s.id),
			(SELECT COALESCE(SUM(c.passed), 0) FROM check_attempts c WHERE c.session_id = s.id),
			(SELECT COUNT(*) FROM submissions b WHERE b.session_id = s.id AND b.outcome IN (?, ?)),
			COALESCE((SELECT b.outcome FROM submissions b WHERE b.session_id = s.id ORDER BY b.id DESC LIMIT 1), '')
		FROM sessions s
		ORDER BY s.start_ts DESC, s.rowid DESC
		LIMIT ?
	`, OutcomeAccepted, OutcomeAlreadySubmitted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionSummary
	for rows.Next() {
		var (
			sum              SessionSummary
			startRaw, endRaw string
			submitted        int
		)
		if err := rows.Scan(
			&sum.ID, &sum.PackID, &sum.Engine, &startRaw, &endRaw, &sum.Phase, &sum.Score, &sum.MaxScore, &sum.Resets,
			&sum.Runs, &sum.Attempts, &sum.Passes, &submitted, &sum.LastOutcome,
		); err != nil {
			return nil, err
		}
		sum.StartTS = parseTS(startRaw)
		sum.EndTS = parseTS(endRaw)
		sum.Submitted = submitted > 0
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context) (Summary, error) {
	var out Summary
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM runs),
			(SELECT COUNT(*) FROM check_attempts),
			(SELECT COALESCE(SUM(passed), 0) FROM check_attempts),
			(SELECT COUNT(*) FROM submissions),
			(SELECT COALESCE(MAX(score), 0) FROM sessions)
	`)
	if err := row.Scan(&out.Sessions, &out.Runs, &out.Attempts, &out.Passes, &out.Submissions, &out.BestScore); err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTS(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTS(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
