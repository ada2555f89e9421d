package session

import (
	"context"
	"sync"
	"time"
)

type TimerConfig struct {
	Duration   time.Duration
	WarnBefore time.Duration
	Tick       time.Duration
	Now        func() time.Time
	OnWarn     func(remaining time.Duration)
	OnExpire   func()
}

// Timer counts down from a fixed start. Remaining time is always derived
// from the start timestamp, so a late tick never drifts the deadline.
type Timer struct {
	mu       sync.Mutex
	cfg      TimerConfig
	start    time.Time
	started  bool
	warned   bool
	expired  bool
	stopped  bool
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewTimer(cfg TimerConfig) *Timer {
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.WarnBefore < 0 {
		cfg.WarnBefore = 0
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Timer{cfg: cfg, stopCh: make(chan struct{}), done: make(chan struct{})}
}

// Begin records the start instant without launching the ticker. Tests drive
// such a timer through Tick.
func (t *Timer) Begin(start time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.start = start
	t.started = true
}

// Start records the start instant and ticks until expiry, Stop or ctx.
func (t *Timer) Start(ctx context.Context) {
	t.Begin(t.cfg.Now())
	go t.loop(ctx)
}

func (t *Timer) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.Tick(t.cfg.Now())
		}
	}
}

// Tick recomputes the remaining time and fires the warning and expiry
// callbacks, each at most once. It returns the remaining time.
func (t *Timer) Tick(now time.Time) time.Duration {
	t.mu.Lock()
	if !t.started || t.stopped {
		rem := t.remainingLocked(now)
		t.mu.Unlock()
		return rem
	}
	rem := t.remainingLocked(now)
	fireWarn := false
	if !t.warned && t.cfg.WarnBefore > 0 && rem <= t.cfg.WarnBefore {
		t.warned = true
		fireWarn = true
	}
	fireExpire := false
	if !t.expired && rem <= 0 {
		t.expired = true
		fireExpire = true
	}
	t.mu.Unlock()

	if fireWarn && t.cfg.OnWarn != nil {
		t.cfg.OnWarn(rem)
	}
	if fireExpire {
		t.Stop()
		if t.cfg.OnExpire != nil {
			t.cfg.OnExpire()
		}
	}
	return rem
}

// Stop halts the ticker. Safe to call any number of times, from any
// goroutine including a callback.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		close(t.stopCh)
	})
}

// Done is closed once the ticker goroutine has exited.
func (t *Timer) Done() <-chan struct{} { return t.done }

func (t *Timer) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked(t.cfg.Now())
}

func (t *Timer) Warned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warned
}

func (t *Timer) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expired
}

func (t *Timer) remainingLocked(now time.Time) time.Duration {
	if !t.started {
		return t.cfg.Duration
	}
	rem := t.cfg.Duration - now.Sub(t.start)
	if rem < 0 {
		return 0
	}
	return rem
}
