package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type submitState int

const (
	submitOpen submitState = iota
	submitBusy
	submitClosed
)

// Session is one timed run through an ordered list of missions. Missions
// unlock strictly in order and each one scores once.
type Session struct {
	mu sync.Mutex

	id       string
	missions []MissionState
	index    map[string]int
	score    int
	maxScore int

	phase     Phase
	startedAt time.Time
	endedAt   time.Time
	submit    submitState
	halted    bool

	now      func() time.Time
	timer    *Timer
	onExpire func(Snapshot)
}

func New(defs []MissionDef, opts Options) (*Session, error) {
	if len(defs) == 0 {
		return nil, errors.New("session needs at least one mission")
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.WarnBefore <= 0 {
		opts.WarnBefore = DefaultWarnBefore
	}
	if opts.WarnBefore >= opts.Duration {
		opts.WarnBefore = opts.Duration / 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	s := &Session{
		id:       opts.ID,
		index:    make(map[string]int, len(defs)),
		phase:    PhasePending,
		now:      opts.Now,
		onExpire: opts.OnExpire,
	}
	for i, d := range defs {
		if _, dup := s.index[d.ID]; dup {
			return nil, fmt.Errorf("duplicate mission %q", d.ID)
		}
		if d.Points < 0 {
			return nil, fmt.Errorf("mission %q has negative points", d.ID)
		}
		st := StatusLocked
		if i == 0 {
			st = StatusInProgress
		}
		s.index[d.ID] = i
		s.missions = append(s.missions, MissionState{ID: d.ID, Points: d.Points, Status: st})
		s.maxScore += d.Points
	}
	s.timer = NewTimer(TimerConfig{
		Duration:   opts.Duration,
		WarnBefore: opts.WarnBefore,
		Tick:       opts.Tick,
		Now:        opts.Now,
		OnWarn:     opts.OnWarn,
		OnExpire:   s.expire,
	})
	return s, nil
}

func (s *Session) ID() string { return s.id }

// Timer exposes the countdown, mainly so callers can wait on Done.
func (s *Session) Timer() *Timer { return s.timer }

// Start moves the session to active and starts the countdown.
func (s *Session) Start(ctx context.Context) error {
	if err := s.activate(); err != nil {
		return err
	}
	s.timer.Start(ctx)
	return nil
}

// Begin activates the session with a manually driven timer; see Timer.Tick.
func (s *Session) Begin() error {
	if err := s.activate(); err != nil {
		return err
	}
	s.timer.Begin(s.startedAt)
	return nil
}

func (s *Session) activate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhasePending {
		return fmt.Errorf("session already %s", s.phase)
	}
	s.phase = PhaseActive
	s.startedAt = s.now()
	return nil
}

// CanAttempt reports whether the mission accepts runs and checks right now.
func (s *Session) CanAttempt(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attemptableLocked(id)
}

func (s *Session) attemptableLocked(id string) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMission, id)
	}
	switch s.phase {
	case PhasePending:
		return ErrNotStarted
	case PhaseFinished, PhaseExpired:
		return ErrSessionOver
	}
	if s.missions[i].Status == StatusLocked {
		return fmt.Errorf("%w: %s", ErrLocked, id)
	}
	return nil
}

// Pass records a passed mission. It returns true only the first time a
// mission passes; repeats are no-ops. Passing the last mission finishes the
// session and stops the timer.
func (s *Session) Pass(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.attemptableLocked(id); err != nil {
		return false, err
	}
	i := s.index[id]
	if s.missions[i].Status == StatusPassed {
		return false, nil
	}
	s.missions[i].Status = StatusPassed
	s.missions[i].PassedAt = s.now()
	s.score += s.missions[i].Points
	if i+1 < len(s.missions) {
		if s.missions[i+1].Status == StatusLocked {
			s.missions[i+1].Status = StatusInProgress
		}
		return true, nil
	}
	s.phase = PhaseFinished
	s.endedAt = s.now()
	s.timer.Stop()
	return true, nil
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.phase != PhaseActive || s.halted {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseExpired
	s.endedAt = s.now()
	snap := s.snapshotLocked()
	cb := s.onExpire
	s.mu.Unlock()
	if cb != nil {
		cb(snap)
	}
}

// Stop ends the countdown without changing the phase. Used on shutdown.
func (s *Session) Stop() { s.timer.Stop() }

// Halt stops the countdown and freezes the clock where it stands. The phase
// is left alone and the session can no longer expire.
func (s *Session) Halt() {
	s.mu.Lock()
	s.halted = true
	if s.phase == PhaseActive && s.endedAt.IsZero() {
		s.endedAt = s.now()
	}
	s.mu.Unlock()
	s.timer.Stop()
}

// BeginSubmit admits one submission at a time. Every successful call must
// be paired with EndSubmit.
func (s *Session) BeginSubmit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.submit {
	case submitBusy:
		return ErrSubmitInFlight
	case submitClosed:
		return ErrAlreadySubmitted
	}
	s.submit = submitBusy
	return nil
}

// EndSubmit releases the latch. Accepted submissions close it for good;
// failed ones reopen it for a manual retry.
func (s *Session) EndSubmit(accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submit != submitBusy {
		return
	}
	if accepted {
		s.submit = submitClosed
		return
	}
	s.submit = submitOpen
}

func (s *Session) Submitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submit == submitClosed
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Score() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

func (s *Session) MaxScore() int { return s.maxScore }

func (s *Session) Status(id string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownMission, id)
	}
	return s.missions[i].Status, nil
}

// Current returns the mission in progress, or "" when none is.
func (s *Session) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.missions {
		if m.Status == StatusInProgress {
			return m.ID
		}
	}
	return ""
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:        s.id,
		Phase:     s.phase,
		Score:     s.score,
		MaxScore:  s.maxScore,
		StartedAt: s.startedAt,
		Missions:  append([]MissionState(nil), s.missions...),
		Remaining: s.timer.cfg.Duration,
	}
	if s.phase == PhasePending {
		return snap
	}
	end := s.now()
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	snap.Elapsed = end.Sub(s.startedAt)
	snap.Remaining = max(0, s.timer.cfg.Duration-snap.Elapsed)
	return snap
}
