package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store handle is required")
	errMissingRemote     = errors.New("remote client is required")
	errMissingIDProvider = errors.New("id provider is required")
	errRecordNotFound    = errors.New("record not found")
	noOpLogger           = zap.NewNop()
)

// ErrReconcileInFlight is returned when a reconcile pass is already running;
// outstanding remote fetches are bounded to one.
var ErrReconcileInFlight = errors.New("schedule: reconcile pass already in flight")

// ServiceError carries an operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "schedule.service.new"
	opReconcile  = "schedule.reconcile"
	opCreate     = "schedule.create"
	opUpdate     = "schedule.update"
	opDelete     = "schedule.delete"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// fetchWindow spans one year back and one year forward. A generous fixed
// window keeps reconciliation correct under clock skew and missed
// notifications, at the cost of request size.
const fetchWindowYears = 1

// RemoteAPI is the slice of the remote calendar client the service uses.
type RemoteAPI interface {
	FetchWindow(ctx context.Context, timeMin, timeMax time.Time) ([]Record, error)
	CreateEvent(ctx context.Context, record Record) (string, error)
	UpdateEvent(ctx context.Context, record Record) error
	DeleteEvent(ctx context.Context, remoteID string) error
}

// UpcomingCache persists the upcoming live-broadcast subset so the auto-start
// feature survives a process restart.
type UpcomingCache interface {
	SaveUpcoming(ctx context.Context, records []Record) error
}

// IDProvider issues identifiers for locally authored records.
type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Store      *Store
	Remote     RemoteAPI
	Cache      UpcomingCache
	Dispatcher *Dispatcher
	Clock      func() time.Time
	Location   *time.Location
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service owns all writes to the Store: reconcile passes and the explicit
// user actions arriving through the local API.
type Service struct {
	store      *Store
	remote     RemoteAPI
	cache      UpcomingCache
	dispatcher *Dispatcher
	clock      func() time.Time
	location   *time.Location
	idProvider IDProvider
	logger     *zap.Logger

	reconcileMu   sync.Mutex
	lastReconcile time.Time
	stateMu       sync.RWMutex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Remote == nil {
		return nil, newServiceError(opServiceNew, "missing_remote", errMissingRemote)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:      cfg.Store,
		remote:     cfg.Remote,
		cache:      cfg.Cache,
		dispatcher: dispatcher,
		clock:      clock,
		location:   location,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Store exposes the record set for read-only consumers.
func (s *Service) Store() *Store {
	return s.store
}

// Dispatcher exposes the change-notice fan-out for local consumers.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// LastReconcile reports when a reconcile pass last completed successfully.
func (s *Service) LastReconcile() time.Time {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.lastReconcile
}

// Reconcile runs one fetch+merge pass. A failed fetch leaves the Store
// untouched; the next scheduled tick retries. At most one pass runs at a
// time, a concurrent call returns ErrReconcileInFlight.
func (s *Service) Reconcile(ctx context.Context) error {
	if !s.reconcileMu.TryLock() {
		return ErrReconcileInFlight
	}
	defer s.reconcileMu.Unlock()

	now := s.clock()
	timeMin := now.AddDate(-fetchWindowYears, 0, 0)
	timeMax := now.AddDate(fetchWindowYears, 0, 0)

	remoteBatch, err := s.remote.FetchWindow(ctx, timeMin, timeMax)
	if err != nil {
		s.logError(opReconcile, "fetch_failed", err)
		return newServiceError(opReconcile, "fetch_failed", err)
	}

	// Merge inside the store's write lock: a local create or edit racing the
	// pass is either merge input or applied after the swap, never lost.
	mergedCount := s.store.ReplaceFunc(func(current []Record) []Record {
		return Merge(current, remoteBatch)
	})

	s.stateMu.Lock()
	s.lastReconcile = now
	s.stateMu.Unlock()

	s.persistUpcoming(ctx)
	s.dispatcher.Publish(ChangeNotice{
		EventType: ChangeEventReconciled,
		Timestamp: now,
	})
	s.logger.Debug("reconcile pass completed",
		zap.Int("remote_batch", len(remoteBatch)),
		zap.Int("merged", mergedCount))
	return nil
}

// Create authors a new local record. Remote create is best-effort: on failure
// the record stays local-only with a surfaced warning, never rolled back.
func (s *Service) Create(ctx context.Context, draft Record) (Record, error) {
	if draft.Title == "" {
		return Record{}, newServiceError(opCreate, "missing_title", nil)
	}
	category, err := ParseCategory(string(draft.Category))
	if err != nil {
		return Record{}, newServiceError(opCreate, "invalid_category", err)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return Record{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	record := draft
	record.ID = recordID
	record.Category = category
	record.Origin = OriginLocal
	record.RemoteID = ""

	if remoteID, err := s.remote.CreateEvent(ctx, record); err != nil {
		s.logger.Warn("remote create failed, keeping record local-only",
			zap.String("record_id", record.ID), zap.Error(err))
	} else {
		record.RemoteID = remoteID
	}

	s.store.Upsert(record)
	s.persistUpcoming(ctx)
	s.dispatcher.Publish(ChangeNotice{
		EventType: ChangeEventUpserted,
		RecordIDs: []string{record.ID},
		Timestamp: s.clock(),
	})
	return record, nil
}

// Update applies a local edit. Editing flips the record's origin to local so
// the edit survives subsequent reconcile passes; a linked remote event gets a
// best-effort update.
func (s *Service) Update(ctx context.Context, record Record) (Record, error) {
	existing, ok := s.store.Get(record.ID)
	if !ok {
		return Record{}, newServiceError(opUpdate, "not_found", errRecordNotFound)
	}
	category, err := ParseCategory(string(record.Category))
	if err != nil {
		return Record{}, newServiceError(opUpdate, "invalid_category", err)
	}

	updated := record
	updated.Category = category
	updated.Origin = OriginLocal
	updated.RemoteID = existing.RemoteID

	if updated.RemoteID != "" {
		if err := s.remote.UpdateEvent(ctx, updated); err != nil {
			s.logger.Warn("remote update failed, keeping local edit",
				zap.String("record_id", updated.ID),
				zap.String("remote_id", updated.RemoteID),
				zap.Error(err))
		}
	}

	s.store.Upsert(updated)
	s.persistUpcoming(ctx)
	s.dispatcher.Publish(ChangeNotice{
		EventType: ChangeEventUpserted,
		RecordIDs: []string{updated.ID},
		Timestamp: s.clock(),
	})
	return updated, nil
}

// Delete removes a record. A linked remote event gets a best-effort delete;
// the local copy is removed regardless of the remote outcome.
func (s *Service) Delete(ctx context.Context, recordID string) error {
	existing, ok := s.store.Get(recordID)
	if !ok {
		return newServiceError(opDelete, "not_found", errRecordNotFound)
	}

	if existing.RemoteID != "" {
		if err := s.remote.DeleteEvent(ctx, existing.RemoteID); err != nil {
			s.logger.Warn("remote delete failed, removing local copy anyway",
				zap.String("record_id", recordID),
				zap.String("remote_id", existing.RemoteID),
				zap.Error(err))
		}
	}

	s.store.Delete(recordID)
	s.persistUpcoming(ctx)
	s.dispatcher.Publish(ChangeNotice{
		EventType: ChangeEventDeleted,
		RecordIDs: []string{recordID},
		Timestamp: s.clock(),
	})
	return nil
}

// persistUpcoming mirrors the upcoming live-broadcast subset into the cache.
// Cache failures are warnings, the in-memory state stays authoritative.
func (s *Service) persistUpcoming(ctx context.Context) {
	if s.cache == nil {
		return
	}
	now := s.clock()
	upcoming := make([]Record, 0, 4)
	for _, record := range s.store.List() {
		if record.Category != CategoryLiveBroadcast {
			continue
		}
		if record.StartAt(s.location).Before(now) {
			continue
		}
		upcoming = append(upcoming, record)
	}
	if err := s.cache.SaveUpcoming(ctx, upcoming); err != nil {
		s.logger.Warn("upcoming cache persist failed", zap.Error(err))
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("schedule service error", attrs...)
}
