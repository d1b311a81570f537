package readiness

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// FlagStore is the persisted side-channel slice the tracker syncs into.
type FlagStore interface {
	SetReadiness(ctx context.Context, recordID string, ready bool) error
}

type TrackerConfig struct {
	Flags  FlagStore
	Logger *zap.Logger
}

// Tracker derives broadcast readiness from the selected source configuration:
// ready when the file list is non-empty or realtime recording is enabled. The
// derived flag is re-synced to the persisted side-channel keyed by the
// upcoming record id so it survives a restart.
type Tracker struct {
	flags  FlagStore
	logger *zap.Logger

	mu                sync.RWMutex
	sourceFiles       []string
	realtimeRecording bool
	restored          bool
	watchedRecordID   string
}

func NewTracker(cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{flags: cfg.Flags, logger: logger}
}

// Ready reports whether a broadcast can start with the current configuration.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.restored || len(t.sourceFiles) > 0 || t.realtimeRecording
}

// Restore seeds readiness from the flag persisted by a previous run. The seed
// holds only until the operator touches the source configuration, which
// recomputes readiness from the live inputs.
func (t *Tracker) Restore(ready bool) {
	t.mu.Lock()
	t.restored = ready
	t.mu.Unlock()
}

// SetSourceFiles replaces the selected broadcast source files.
func (t *Tracker) SetSourceFiles(ctx context.Context, files []string) {
	t.mu.Lock()
	t.sourceFiles = append([]string(nil), files...)
	t.restored = false
	t.mu.Unlock()
	t.sync(ctx)
}

// SetRealtimeRecording toggles the realtime-recording source flag.
func (t *Tracker) SetRealtimeRecording(ctx context.Context, enabled bool) {
	t.mu.Lock()
	t.realtimeRecording = enabled
	t.restored = false
	t.mu.Unlock()
	t.sync(ctx)
}

// Watch points the tracker at the upcoming record whose persisted flag
// should mirror the derived readiness.
func (t *Tracker) Watch(ctx context.Context, recordID string) {
	t.mu.Lock()
	t.watchedRecordID = recordID
	t.mu.Unlock()
	t.sync(ctx)
}

func (t *Tracker) sync(ctx context.Context) {
	t.mu.RLock()
	recordID := t.watchedRecordID
	t.mu.RUnlock()
	if t.flags == nil || recordID == "" {
		return
	}
	if err := t.flags.SetReadiness(ctx, recordID, t.Ready()); err != nil {
		t.logger.Warn("readiness flag persist failed",
			zap.String("record_id", recordID), zap.Error(err))
	}
}
