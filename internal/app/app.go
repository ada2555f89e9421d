package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"dataninja/internal/backend"
	"dataninja/internal/grading"
	"dataninja/internal/missions"
	"dataninja/internal/sandbox"
	"dataninja/internal/session"
	"dataninja/internal/state"
	"dataninja/internal/telemetry"
	"dataninja/internal/ui"
)

const Version = "0.1.0"

// Deps are the collaborators an App drives. Open wires the real ones.
type Deps struct {
	Logger  *telemetry.Logger
	Store   state.Store
	Runner  sandbox.Runner
	Grader  grading.Grader
	Backend Backend
	Pack    missions.Pack
	Now     func() time.Time
	Tick    time.Duration
}

// App owns one player's training: the interpreter, the mission session and
// the record of what happened.
type App struct {
	cfg     Config
	logger  *telemetry.Logger
	store   state.Store
	runner  sandbox.Runner
	grader  grading.Grader
	backend Backend
	pack    missions.Pack
	now     func() time.Time
	tick    time.Duration
	events  chan Event

	mu       sync.Mutex
	engine   sandbox.EngineInfo
	detected bool
	kernel   sandbox.Kernel
	sess     *session.Session
	cancel   context.CancelFunc
	playCode string
	lastRun  map[string]*sandbox.Result
	attempts map[string]int
	hints    map[string]int
	runSeq   int
}

func New(cfg Config, deps Deps) (*App, error) {
	if deps.Store == nil || deps.Runner == nil {
		return nil, errors.New("app needs a store and a runner")
	}
	if len(deps.Pack.Missions) == 0 {
		return nil, errors.New("app needs a mission pack")
	}
	if deps.Grader == nil {
		deps.Grader = grading.NewGrader()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &App{
		cfg:     cfg,
		logger:  deps.Logger,
		store:   deps.Store,
		runner:  deps.Runner,
		grader:  deps.Grader,
		backend: deps.Backend,
		pack:    deps.Pack,
		now:     deps.Now,
		tick:    deps.Tick,
		events:  make(chan Event, 16),
	}, nil
}

// Open builds an App from configuration: log file, sqlite store, mission
// pack, interpreter runner and backend client.
func Open(ctx context.Context, cfg Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, err
	}
	logger, err := telemetry.NewJSONLogger(cfg.LogPath)
	if err != nil {
		return nil, err
	}
	store, err := state.NewSQLite(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		_ = logger.Close()
		return nil, err
	}

	pack, ok := missions.Pack{}, false
	if cfg.RememberPack {
		pack, ok = rememberedPack(ctx, cfg, store, logger)
	}
	if !ok {
		if pack, err = LoadPack(ctx, cfg); err != nil {
			_ = store.Close()
			_ = logger.Close()
			return nil, err
		}
	}

	var client Backend
	if !cfg.Offline {
		c, err := backend.New(backend.Config{
			URL:     cfg.Backend.URL,
			Origin:  cfg.Backend.Origin,
			AppKey:  cfg.Backend.AppKey,
			Timeout: cfg.Backend.Timeout,
		}, nil)
		if err != nil {
			_ = store.Close()
			_ = logger.Close()
			return nil, err
		}
		client = c
	}

	mode := cfg.SandboxMode
	if mode == "python" {
		mode = "auto"
	}
	return New(cfg, Deps{
		Logger:  logger,
		Store:   store,
		Runner:  sandbox.NewManager(mode),
		Grader:  grading.NewGrader(),
		Backend: client,
		Pack:    pack,
	})
}

// LoadPack finds the configured pack among the built-in packs and, when
// set, those under cfg.PacksDir.
func LoadPack(ctx context.Context, cfg Config) (missions.Pack, error) {
	loader := missions.NewLoader()
	packs, err := loader.Builtin(ctx)
	if err != nil {
		return missions.Pack{}, err
	}
	if cfg.PacksDir != "" {
		extra, err := loader.LoadDir(ctx, cfg.PacksDir)
		if err != nil {
			return missions.Pack{}, err
		}
		packs = append(packs, extra...)
	}
	return loader.FindPack(packs, cfg.PackID)
}

// rememberedPack loads the pack saved as last_pack, if it is still around.
func rememberedPack(ctx context.Context, cfg Config, store state.Store, logger *telemetry.Logger) (missions.Pack, bool) {
	settings, err := store.LoadSettings(ctx)
	if err != nil {
		logger.Warn("store.settings_load_failed", map[string]any{"error": err.Error()})
		return missions.Pack{}, false
	}
	id := settings["last_pack"]
	if id == "" || id == cfg.PackID {
		return missions.Pack{}, false
	}
	cfg.PackID = id
	pack, err := LoadPack(ctx, cfg)
	if err != nil {
		logger.Warn("pack.last_unavailable", map[string]any{"pack": id, "error": err.Error()})
		return missions.Pack{}, false
	}
	logger.Info("pack.remembered", map[string]any{"pack": id, "engine": settings["last_engine"]})
	return pack, true
}

func (a *App) Pack() missions.Pack { return a.pack }

func (a *App) Events() <-chan Event { return a.events }

func (a *App) Engine() sandbox.EngineInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine
}

// SignIn exchanges the player's code with the backend. Offline play keeps
// the code as typed.
func (a *App) SignIn(ctx context.Context, code string) error {
	if a.backend == nil {
		a.mu.Lock()
		a.playCode = code
		a.mu.Unlock()
		return nil
	}
	exchanged, err := a.backend.Exchange(ctx, code)
	if err != nil {
		a.logger.Warn("signin.failed", map[string]any{"error": err.Error()})
		return err
	}
	a.mu.Lock()
	a.playCode = exchanged
	a.mu.Unlock()
	a.logger.Info("signin.ok", nil)
	return nil
}

func (a *App) SignedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playCode != ""
}

// Start boots the interpreter and starts the clock.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess != nil {
		return errors.New("training already started")
	}
	return a.startLocked(ctx)
}

func (a *App) startLocked(ctx context.Context) error {
	if !a.detected {
		info, err := a.runner.Detect(ctx, a.cfg.Interpreter)
		if err != nil {
			a.logger.Error("engine.detect_failed", map[string]any{"error": err.Error()})
			return fmt.Errorf("detect interpreter: %w", err)
		}
		a.engine = info
		a.detected = true
		a.logger.Info("engine.detected", map[string]any{"engine": info.Name, "path": info.Path, "version": info.Version})
	}

	id := uuid.NewString()
	k, err := a.runner.Start(ctx, sandbox.StartSpec{
		SessionID:  id,
		WorkDir:    filepath.Join(a.cfg.DataDir, "sessions", id),
		Files:      a.pack.Files(),
		RunTimeout: a.cfg.RunTimeout,
	})
	if err != nil {
		a.logger.Error("kernel.start_failed", map[string]any{"session": id, "error": err.Error()})
		return fmt.Errorf("start interpreter: %w", err)
	}
	caps := k.Capabilities()
	if !caps.Pandas {
		_ = k.Stop(ctx)
		return fmt.Errorf("pandas is not installed for %s", a.engine.Path)
	}
	a.logger.Info("kernel.ready", map[string]any{"session": id, "python": caps.Python, "matplotlib": caps.Matplotlib})
	if mk, ok := k.(*sandbox.MockKernel); ok {
		a.logger.Info("kernel.demo_scripted", map[string]any{"session": id, "missions": scriptDemos(mk, a.pack)})
	}

	defs := make([]session.MissionDef, 0, len(a.pack.Missions))
	for _, m := range a.pack.Missions {
		defs = append(defs, session.MissionDef{ID: m.MissionID, Points: m.Points})
	}
	var sess *session.Session
	sess, err = session.New(defs, session.Options{
		ID:         id,
		Duration:   a.pack.Duration(),
		WarnBefore: a.pack.WarnBefore(),
		Tick:       a.tick,
		Now:        a.now,
		OnWarn:     func(rem time.Duration) { a.onWarn(id, rem) },
		OnExpire:   func(snap session.Snapshot) { a.onExpire(sess, snap) },
	})
	if err != nil {
		_ = k.Stop(ctx)
		return err
	}

	if err := a.store.StartSession(ctx, state.SessionRecord{
		ID:          id,
		PackID:      a.pack.PackID,
		PackVersion: a.pack.Version,
		Engine:      a.engine.Name,
		MaxScore:    sess.MaxScore(),
		StartTS:     a.now(),
	}); err != nil {
		a.logger.Error("store.start_session_failed", map[string]any{"session": id, "error": err.Error()})
	}
	if err := a.store.SaveSettings(ctx, map[string]string{"last_engine": a.engine.Name, "last_pack": a.pack.PackID}); err != nil {
		a.logger.Error("store.settings_failed", map[string]any{"error": err.Error()})
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := sess.Start(runCtx); err != nil {
		cancel()
		_ = k.Stop(ctx)
		return err
	}
	a.kernel = k
	a.sess = sess
	a.cancel = cancel
	a.lastRun = map[string]*sandbox.Result{}
	a.attempts = map[string]int{}
	a.hints = map[string]int{}
	a.logger.Info("session.start", map[string]any{"session": id, "pack": a.pack.PackID, "duration": a.pack.Duration().String()})
	return nil
}

func (a *App) active() (sandbox.Kernel, *session.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil || a.kernel == nil {
		return nil, nil, ErrNotStarted
	}
	return a.kernel, a.sess, nil
}

// Run executes code for a mission and keeps the result for plot checks.
func (a *App) Run(ctx context.Context, missionID, code string) (RunOutcome, error) {
	k, sess, err := a.active()
	if err != nil {
		return RunOutcome{}, err
	}
	if err := sess.CanAttempt(missionID); err != nil {
		return RunOutcome{}, err
	}
	res, err := k.Run(ctx, code)
	if err != nil {
		a.logger.Error("run.failed", map[string]any{"session": sess.ID(), "mission": missionID, "error": err.Error()})
		return RunOutcome{}, err
	}

	a.mu.Lock()
	a.runSeq++
	seq := a.runSeq
	kept := res
	a.lastRun[missionID] = &kept
	a.mu.Unlock()

	out := RunOutcome{MissionID: missionID, Result: res}
	if res.HasImage() {
		path, err := ui.SaveImage(filepath.Join(k.WorkDir(), "charts"), fmt.Sprintf("%s-%03d", missionID, seq), res.ImagePNG)
		if err != nil {
			a.logger.Warn("run.chart_save_failed", map[string]any{"mission": missionID, "error": err.Error()})
		} else {
			out.ImagePath = path
		}
	}
	if err := a.store.RecordRun(ctx, state.RunRecord{
		SessionID:  sess.ID(),
		MissionID:  missionID,
		TS:         a.now(),
		DurationMS: res.Duration.Milliseconds(),
		Failed:     res.Failed(),
		HasImage:   res.HasImage(),
	}); err != nil {
		a.logger.Error("store.record_run_failed", map[string]any{"error": err.Error()})
	}
	a.logger.Info("run.done", map[string]any{"session": sess.ID(), "mission": missionID, "failed": res.Failed(), "image": res.HasImage()})
	return out, nil
}

// Check grades a mission against the live interpreter state.
func (a *App) Check(ctx context.Context, missionID string) (CheckOutcome, error) {
	k, sess, err := a.active()
	if err != nil {
		return CheckOutcome{}, err
	}
	if err := sess.CanAttempt(missionID); err != nil {
		return CheckOutcome{}, err
	}
	m, ok := a.pack.Mission(missionID)
	if !ok {
		return CheckOutcome{}, fmt.Errorf("%w: %s", session.ErrUnknownMission, missionID)
	}

	a.mu.Lock()
	a.attempts[missionID]++
	attempt := a.attempts[missionID]
	last := a.lastRun[missionID]
	a.mu.Unlock()

	snap := sess.Snapshot()
	res, err := a.grader.Grade(ctx, k, grading.Request{
		AppVersion:  Version,
		PackID:      a.pack.PackID,
		PackVersion: a.pack.Version,
		MissionID:   missionID,
		SessionID:   sess.ID(),
		Attempt:     attempt,
		StartedAt:   snap.StartedAt,
		FinishedAt:  a.now(),
		Points:      m.Points,
		Checks:      gradingChecks(m.Checks),
		LastRun:     last,
	})
	if err != nil {
		a.logger.Error("check.error", map[string]any{"session": sess.ID(), "mission": missionID, "error": err.Error()})
		return CheckOutcome{}, err
	}

	out := CheckOutcome{MissionID: missionID, Result: res}
	if res.Passed {
		newly, err := sess.Pass(missionID)
		if err != nil {
			return CheckOutcome{}, err
		}
		out.NewlyPassed = newly
	}
	now := a.now()
	if err := a.store.RecordCheckAttempt(ctx, sess.ID(), missionID, res.Passed, now); err != nil {
		a.logger.Error("store.record_attempt_failed", map[string]any{"error": err.Error()})
	}
	update := state.MissionProgressUpdate{MissionID: missionID, Passed: out.NewlyPassed, LastPlayedTS: now}
	if out.NewlyPassed {
		update.DurationMS = now.Sub(snap.StartedAt).Milliseconds()
	}
	if err := a.store.UpsertMissionProgress(ctx, update); err != nil {
		a.logger.Error("store.progress_failed", map[string]any{"error": err.Error()})
	}

	after := sess.Snapshot()
	out.Score = after.Score
	if out.NewlyPassed && after.Phase == session.PhaseFinished {
		out.Finished = true
		a.endSession(ctx, after)
		a.logger.Info("session.finished", map[string]any{"session": after.ID, "score": after.Score, "elapsed_ms": after.Elapsed.Milliseconds()})
	}
	if res.Passed {
		a.logger.Info("check.passed", map[string]any{"session": sess.ID(), "mission": missionID, "attempt": attempt})
	} else {
		a.logger.Info("check.failed", map[string]any{"session": sess.ID(), "mission": missionID, "attempt": attempt, "reason": res.FirstFailure()})
	}
	return out, nil
}

// Hint returns the next hint for a mission, or false when none are left.
func (a *App) Hint(missionID string) (string, bool) {
	m, ok := a.pack.Mission(missionID)
	if !ok {
		return "", false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hints == nil {
		return "", false
	}
	i := a.hints[missionID]
	if i >= len(m.Hints) {
		return "", false
	}
	a.hints[missionID] = i + 1
	return m.Hints[i], true
}

// Submit sends the current score on the player's behalf.
func (a *App) Submit(ctx context.Context) (SubmitReport, error) {
	_, sess, err := a.active()
	if err != nil {
		return SubmitReport{}, err
	}
	return a.submit(ctx, sess, false), nil
}

func (a *App) submit(ctx context.Context, sess *session.Session, auto bool) SubmitReport {
	if err := sess.BeginSubmit(); err != nil {
		out := SubmitReport{Auto: auto, Err: err, Outcome: OutcomeBusy}
		if errors.Is(err, session.ErrAlreadySubmitted) {
			out.Outcome = OutcomeAlreadySubmitted
		}
		return out
	}
	snap := sess.Snapshot()
	report := SubmitReport{
		Auto:      auto,
		Score:     snap.Score,
		MaxScore:  snap.MaxScore,
		ElapsedMS: snap.Elapsed.Milliseconds(),
	}

	a.mu.Lock()
	code := a.playCode
	a.mu.Unlock()

	switch {
	case a.backend == nil:
		report.Outcome = OutcomeSkipped
	case code == "":
		report.Outcome, report.Err = OutcomeRejected, ErrNotSignedIn
	default:
		report.Err = a.backend.Submit(ctx, backend.SubmitRequest{
			Code:      code,
			Level:     a.cfg.Backend.SubmitLevel,
			Score:     report.Score,
			ElapsedMS: report.ElapsedMS,
		})
		report.Outcome = classifySubmit(report.Err)
	}
	sess.EndSubmit(report.Outcome.Closes())
	if !auto && report.Outcome.Closes() {
		sess.Halt()
		if snap := sess.Snapshot(); snap.Phase == session.PhaseActive {
			snap.Phase = "submitted"
			a.endSession(ctx, snap)
		}
	}

	if err := a.store.RecordSubmission(ctx, state.Submission{
		SessionID: sess.ID(),
		Level:     a.cfg.Backend.SubmitLevel,
		Score:     report.Score,
		ElapsedMS: report.ElapsedMS,
		Auto:      auto,
		Outcome:   string(report.Outcome),
		TS:        a.now(),
	}); err != nil {
		a.logger.Error("store.submission_failed", map[string]any{"error": err.Error()})
	}
	fields := map[string]any{"session": sess.ID(), "auto": auto, "score": report.Score, "outcome": string(report.Outcome)}
	if report.Err != nil {
		fields["error"] = report.Err.Error()
	}
	a.logger.Info("submit.done", fields)
	return report
}

func classifySubmit(err error) SubmitOutcome {
	var rej *backend.RejectedError
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, backend.ErrAlreadySubmitted):
		return OutcomeAlreadySubmitted
	case errors.Is(err, backend.ErrInvalidCode):
		return OutcomeInvalidCode
	case errors.Is(err, backend.ErrNetwork):
		return OutcomeNetworkError
	case errors.As(err, &rej):
		return OutcomeRejected
	default:
		return OutcomeNetworkError
	}
}

func (a *App) onWarn(sessionID string, remaining time.Duration) {
	a.logger.Info("session.warning", map[string]any{"session": sessionID, "remaining_ms": remaining.Milliseconds()})
	a.emit(Event{Kind: EventWarning, At: a.now(), Remaining: remaining})
}

// onExpire runs on the timer goroutine once the clock hits zero while the
// session is still active.
func (a *App) onExpire(sess *session.Session, snap session.Snapshot) {
	a.logger.Info("session.expired", map[string]any{"session": snap.ID, "score": snap.Score})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.endSession(ctx, snap)
	report := a.submit(ctx, sess, true)
	a.emit(Event{Kind: EventExpired, At: a.now(), Snapshot: snap, Submit: &report})
}

func (a *App) endSession(ctx context.Context, snap session.Snapshot) {
	if err := a.store.EndSession(ctx, snap.ID, string(snap.Phase), snap.Score, a.now()); err != nil {
		a.logger.Error("store.end_session_failed", map[string]any{"session": snap.ID, "error": err.Error()})
	}
}

func (a *App) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warn("event.dropped", map[string]any{"kind": int(ev.Kind)})
	}
}

// Reset abandons the current training and starts a fresh one.
func (a *App) Reset(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sess == nil {
		return ErrNotStarted
	}
	old := a.sess.ID()
	a.stopLocked(ctx)
	if err := a.store.IncrementReset(ctx, old); err != nil {
		a.logger.Error("store.reset_failed", map[string]any{"error": err.Error()})
	}
	a.logger.Info("session.reset", map[string]any{"session": old})
	return a.startLocked(ctx)
}

func (a *App) stopLocked(ctx context.Context) {
	if a.sess != nil {
		a.sess.Stop()
		if snap := a.sess.Snapshot(); snap.Phase == session.PhaseActive && !a.sess.Submitted() {
			snap.Phase = "abandoned"
			a.endSession(ctx, snap)
		}
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.kernel != nil {
		if err := a.kernel.Stop(ctx); err != nil {
			a.logger.Warn("kernel.stop_failed", map[string]any{"error": err.Error()})
		}
		a.kernel = nil
	}
	a.sess = nil
}

// Snapshot returns the session state; ok is false before Start.
func (a *App) Snapshot() (session.Snapshot, bool) {
	a.mu.Lock()
	sess := a.sess
	a.mu.Unlock()
	if sess == nil {
		return session.Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// State is the view model for the play loop.
func (a *App) State() ui.PlayingState {
	st := ui.PlayingState{PackName: a.pack.Name, MaxScore: a.pack.MaxScore(), Remaining: a.pack.Duration()}
	a.mu.Lock()
	sess := a.sess
	st.Engine = a.engine.Name
	a.mu.Unlock()
	if sess == nil {
		return st
	}
	snap := sess.Snapshot()
	st.Score = snap.Score
	st.Remaining = snap.Remaining
	st.Phase = string(snap.Phase)
	st.Submitted = sess.Submitted()
	for _, ms := range snap.Missions {
		m, _ := a.pack.Mission(ms.ID)
		st.Missions = append(st.Missions, ui.MissionRow{ID: ms.ID, Title: m.Title, Points: ms.Points, Status: string(ms.Status)})
		if ms.Status == session.StatusInProgress && st.MissionID == "" {
			st.MissionID = ms.ID
			st.Title = m.Title
		}
	}
	return st
}

// Close stops the interpreter and releases the store and log.
func (a *App) Close(ctx context.Context) {
	a.mu.Lock()
	a.stopLocked(ctx)
	a.mu.Unlock()
	_ = a.store.Close()
	_ = a.logger.Close()
}

func gradingChecks(in []missions.CheckSpec) []grading.CheckSpec {
	out := make([]grading.CheckSpec, 0, len(in))
	for _, c := range in {
		out = append(out, grading.CheckSpec{
			ID:            c.ID,
			Type:          c.Type,
			Description:   c.Description,
			OnFailMessage: c.OnFailMessage,
			OnPassMessage: c.OnPassMessage,
			Expr:          c.Expr,
			Expected:      c.Expected,
			ExpectedExpr:  c.ExpectedExpr,
			Count:         c.Count,
		})
	}
	return out
}
