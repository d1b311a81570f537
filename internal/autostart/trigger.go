package autostart

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/castplanhq/castplan/internal/schedule"
	"go.uber.org/zap"
)

// Arming window around a record's start instant. The trigger tolerates
// evaluation jitter but never fires more than earlyTolerance before nor more
// than lateTolerance after the scheduled start.
const (
	earlyTolerance = 5 * time.Second
	lateTolerance  = 30 * time.Second

	defaultTickInterval = time.Second
)

var (
	errMissingUpcoming = errors.New("autostart: upcoming source is required")
	errMissingAction   = errors.New("autostart: action is required")
)

// ErrNotReady reports that the start action was deferred because broadcast
// readiness was not satisfied. The trigger re-attempts every tick while the
// arming window stays open.
var ErrNotReady = errors.New("autostart: broadcast source not ready")

// Decision is the outcome of evaluating one tick against one record.
type Decision int

const (
	// DecisionIdle means the record is outside the arming window (too early)
	// or already handled.
	DecisionIdle Decision = iota
	// DecisionFire means the start action must run now.
	DecisionFire
	// DecisionWaitReady means the window is open but readiness is not
	// satisfied; the tick is a no-op and the record stays unhandled.
	DecisionWaitReady
	// DecisionExpired means the window closed without firing.
	DecisionExpired
)

// Evaluate decides what a tick at now does for a record starting at start.
// Pure so the decision logic tests without real clocks.
func Evaluate(now, start time.Time, ready, alreadyFired bool) Decision {
	if alreadyFired {
		return DecisionIdle
	}
	delta := start.Sub(now)
	if delta > earlyTolerance {
		return DecisionIdle
	}
	if delta < -lateTolerance {
		return DecisionExpired
	}
	if !ready {
		return DecisionWaitReady
	}
	return DecisionFire
}

// UpcomingSource yields the nearest future record of a category.
type UpcomingSource interface {
	NextUpcoming(now time.Time, category schedule.Category, loc *time.Location) (schedule.Record, bool)
}

// ReadinessSource reports whether the broadcast source configuration is
// complete enough to start.
type ReadinessSource interface {
	Ready() bool
}

type TriggerConfig struct {
	Upcoming  UpcomingSource
	Readiness ReadinessSource
	// Action starts the broadcast. Invoked at most once per record.
	Action   func(ctx context.Context, record schedule.Record) error
	Clock    func() time.Time
	Location *time.Location
	Interval time.Duration
	Logger   *zap.Logger
}

// Trigger polls the upcoming live-broadcast record once per second and fires
// the start action exactly once when the wall clock crosses its start time.
type Trigger struct {
	upcoming  UpcomingSource
	readiness ReadinessSource
	action    func(ctx context.Context, record schedule.Record) error
	clock     func() time.Time
	location  *time.Location
	interval  time.Duration
	logger    *zap.Logger

	manualActive atomic.Bool

	mu    sync.Mutex
	fired map[string]struct{}
}

func NewTrigger(cfg TriggerConfig) (*Trigger, error) {
	if cfg.Upcoming == nil {
		return nil, errMissingUpcoming
	}
	if cfg.Action == nil {
		return nil, errMissingAction
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Trigger{
		upcoming:  cfg.Upcoming,
		readiness: cfg.Readiness,
		action:    cfg.Action,
		clock:     clock,
		location:  location,
		interval:  interval,
		logger:    logger,
		fired:     make(map[string]struct{}),
	}, nil
}

// SetManualActive disables the trigger while a manually started session is
// running and re-enables it when that session ends.
func (t *Trigger) SetManualActive(active bool) {
	t.manualActive.Store(active)
}

// ManualActive reports whether a manual session currently disables the trigger.
func (t *Trigger) ManualActive() bool {
	return t.manualActive.Load()
}

// Run evaluates once per interval until ctx is cancelled. The ticker stops
// with ctx; no tick fires after teardown.
func (t *Trigger) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *Trigger) tick(ctx context.Context) {
	if t.manualActive.Load() {
		return
	}

	now := t.clock()
	// Records that started inside the late tolerance still count as upcoming.
	record, ok := t.upcoming.NextUpcoming(now.Add(-lateTolerance), schedule.CategoryLiveBroadcast, t.location)
	if !ok {
		return
	}

	decision := Evaluate(now, record.StartAt(t.location), t.ready(), t.hasFired(record.ID))
	switch decision {
	case DecisionFire:
		if err := t.action(ctx, record); err != nil {
			t.logger.Warn("auto-start action failed, will retry inside arming window",
				zap.String("record_id", record.ID),
				zap.String("title", record.Title),
				zap.Error(err))
			return
		}
		t.markFired(record.ID)
		t.logger.Info("auto-start fired",
			zap.String("record_id", record.ID),
			zap.String("title", record.Title))
	case DecisionWaitReady:
		t.logger.Warn("auto-start deferred", zap.String("record_id", record.ID), zap.Error(ErrNotReady))
	case DecisionExpired:
		t.logger.Warn("auto-start window passed without firing",
			zap.String("record_id", record.ID),
			zap.String("title", record.Title))
	}
}

func (t *Trigger) ready() bool {
	if t.readiness == nil {
		return false
	}
	return t.readiness.Ready()
}

func (t *Trigger) hasFired(recordID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.fired[recordID]
	return ok
}

func (t *Trigger) markFired(recordID string) {
	t.mu.Lock()
	t.fired[recordID] = struct{}{}
	t.mu.Unlock()
}
