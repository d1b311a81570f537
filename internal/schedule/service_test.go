package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeRemote struct {
	mu           sync.Mutex
	batch        []Record
	fetchErr     error
	fetchStarted chan struct{}
	fetchRelease chan struct{}
	createID     string
	createErr    error
	updateErr    error
	deleteErr    error
	deleted      []string
}

func (f *fakeRemote) FetchWindow(ctx context.Context, timeMin, timeMax time.Time) ([]Record, error) {
	if f.fetchStarted != nil {
		close(f.fetchStarted)
		f.fetchStarted = nil
	}
	if f.fetchRelease != nil {
		<-f.fetchRelease
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]Record(nil), f.batch...), nil
}

func (f *fakeRemote) CreateEvent(ctx context.Context, record Record) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.createID, nil
}

func (f *fakeRemote) UpdateEvent(ctx context.Context, record Record) error {
	return f.updateErr
}

func (f *fakeRemote) DeleteEvent(ctx context.Context, remoteID string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, remoteID)
	f.mu.Unlock()
	return f.deleteErr
}

type fakeUpcomingCache struct {
	mu    sync.Mutex
	saved [][]Record
	err   error
}

func (f *fakeUpcomingCache) SaveUpcoming(ctx context.Context, records []Record) error {
	f.mu.Lock()
	f.saved = append(f.saved, append([]Record(nil), records...))
	f.mu.Unlock()
	return f.err
}

type staticIDProvider struct {
	id string
}

func (p staticIDProvider) NewID() (string, error) {
	return p.id, nil
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("local-%d", p.next), nil
}

func newTestService(t *testing.T, remote *fakeRemote, upcoming *fakeUpcomingCache) *Service {
	t.Helper()
	var cache UpcomingCache
	if upcoming != nil {
		cache = upcoming
	}
	service, err := NewService(ServiceConfig{
		Store:      NewStore(),
		Remote:     remote,
		Cache:      cache,
		Clock:      func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
		Location:   time.UTC,
		IDProvider: staticIDProvider{id: "local-id-1"},
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return service
}

func TestReconcileMergesRemoteBatchIntoStore(t *testing.T) {
	remote := &fakeRemote{batch: []Record{
		{ID: RecordIDForRemote("g1"), RemoteID: "g1", Origin: OriginRemote, Title: "Original"},
		{ID: RecordIDForRemote("g2"), RemoteID: "g2", Origin: OriginRemote, Title: "New"},
	}}
	service := newTestService(t, remote, nil)
	service.Store().Upsert(Record{ID: "a", RemoteID: "g1", Origin: OriginLocal, Title: "Edited"})

	if err := service.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}

	records := service.Store().List()
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	edited, ok := service.Store().Get("a")
	if !ok || edited.Title != "Edited" {
		t.Fatalf("local edit must survive reconcile: %#v", edited)
	}
	if service.LastReconcile().IsZero() {
		t.Fatalf("expected last reconcile timestamp to be recorded")
	}
}

func TestReconcileFetchFailureLeavesStoreUntouched(t *testing.T) {
	remote := &fakeRemote{fetchErr: errors.New("boom")}
	service := newTestService(t, remote, nil)
	service.Store().Upsert(Record{ID: "keep", Origin: OriginLocal})

	err := service.Reconcile(context.Background())
	if err == nil {
		t.Fatalf("expected reconcile error")
	}
	var serviceError *ServiceError
	if !errors.As(err, &serviceError) {
		t.Fatalf("expected coded service error, got %T", err)
	}
	if serviceError.Code() != "schedule.reconcile.fetch_failed" {
		t.Fatalf("unexpected error code %q", serviceError.Code())
	}
	if _, ok := service.Store().Get("keep"); !ok {
		t.Fatalf("store must stay untouched on fetch failure")
	}
	if !service.LastReconcile().IsZero() {
		t.Fatalf("failed pass must not record a reconcile timestamp")
	}
}

func TestReconcileBoundsOutstandingPassesToOne(t *testing.T) {
	remote := &fakeRemote{
		fetchStarted: make(chan struct{}),
		fetchRelease: make(chan struct{}),
	}
	started := remote.fetchStarted
	service := newTestService(t, remote, nil)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- service.Reconcile(context.Background())
	}()

	<-started
	if err := service.Reconcile(context.Background()); !errors.Is(err, ErrReconcileInFlight) {
		t.Fatalf("expected ErrReconcileInFlight, got %v", err)
	}
	close(remote.fetchRelease)

	if err := <-firstDone; err != nil {
		t.Fatalf("first pass should succeed: %v", err)
	}
}

func TestReconcileKeepsRecordCreatedConcurrently(t *testing.T) {
	batch := make([]Record, 0, 5000)
	for i := 0; i < 5000; i++ {
		remoteID := fmt.Sprintf("g%d", i)
		batch = append(batch, Record{
			ID: RecordIDForRemote(remoteID), RemoteID: remoteID, Origin: OriginRemote,
		})
	}
	remote := &fakeRemote{batch: batch}
	ids := &sequenceIDProvider{}
	service, err := NewService(ServiceConfig{
		Store:      NewStore(),
		Remote:     remote,
		Clock:      func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
		Location:   time.UTC,
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	for iteration := 0; iteration < 20; iteration++ {
		reconcileDone := make(chan struct{})
		go func() {
			defer close(reconcileDone)
			if err := service.Reconcile(context.Background()); err != nil && !errors.Is(err, ErrReconcileInFlight) {
				t.Errorf("unexpected reconcile error: %v", err)
			}
		}()

		record, err := service.Create(context.Background(), Record{Title: "Draft", Category: CategoryOther})
		if err != nil {
			t.Fatalf("unexpected create error: %v", err)
		}
		<-reconcileDone

		if _, ok := service.Store().Get(record.ID); !ok {
			t.Fatalf("iteration %d: locally created record %q lost by concurrent reconcile", iteration, record.ID)
		}
	}
}

func TestReconcilePersistsUpcomingLiveBroadcasts(t *testing.T) {
	remote := &fakeRemote{batch: []Record{
		{
			ID: RecordIDForRemote("g1"), RemoteID: "g1", Origin: OriginRemote,
			Title: "Show", Category: CategoryLiveBroadcast,
			Date: Date{2026, 9, 2}, StartTime: ClockTime{20, 0}, EndTime: ClockTime{21, 0},
		},
		{
			ID: RecordIDForRemote("g2"), RemoteID: "g2", Origin: OriginRemote,
			Title: "Past show", Category: CategoryLiveBroadcast,
			Date: Date{2026, 8, 1}, StartTime: ClockTime{20, 0}, EndTime: ClockTime{21, 0},
		},
	}}
	upcoming := &fakeUpcomingCache{}
	service := newTestService(t, remote, upcoming)

	if err := service.Reconcile(context.Background()); err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}

	if len(upcoming.saved) == 0 {
		t.Fatalf("expected cache persist after reconcile")
	}
	last := upcoming.saved[len(upcoming.saved)-1]
	if len(last) != 1 || last[0].RemoteID != "g1" {
		t.Fatalf("expected only future live broadcasts persisted, got %#v", last)
	}
}

func TestCreateKeepsRecordLocalOnlyWhenRemoteFails(t *testing.T) {
	remote := &fakeRemote{createErr: errors.New("remote down")}
	service := newTestService(t, remote, nil)

	record, err := service.Create(context.Background(), Record{
		Title: "Draft", Category: CategoryOther,
		Date: Date{2026, 9, 3}, StartTime: ClockTime{10, 0}, EndTime: ClockTime{11, 0},
	})
	if err != nil {
		t.Fatalf("create must proceed despite remote failure: %v", err)
	}
	if record.RemoteID != "" {
		t.Fatalf("failed remote create must leave record unlinked")
	}
	if record.Origin != OriginLocal {
		t.Fatalf("expected local origin, got %q", record.Origin)
	}
	if _, ok := service.Store().Get(record.ID); !ok {
		t.Fatalf("record missing from store")
	}
}

func TestCreateLinksRemoteIDOnSuccess(t *testing.T) {
	remote := &fakeRemote{createID: "g9"}
	service := newTestService(t, remote, nil)

	record, err := service.Create(context.Background(), Record{Title: "Show", Category: CategoryLiveBroadcast})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if record.RemoteID != "g9" {
		t.Fatalf("expected linked remote id, got %q", record.RemoteID)
	}
}

func TestUpdateFlipsOriginToLocalAndKeepsRemoteLink(t *testing.T) {
	remote := &fakeRemote{updateErr: errors.New("remote down")}
	service := newTestService(t, remote, nil)
	service.Store().Upsert(Record{ID: "r1", RemoteID: "g1", Origin: OriginRemote, Title: "Original"})

	updated, err := service.Update(context.Background(), Record{ID: "r1", Title: "Edited", Category: CategoryOther})
	if err != nil {
		t.Fatalf("update must proceed despite remote failure: %v", err)
	}
	if updated.Origin != OriginLocal {
		t.Fatalf("editing must flip origin to local, got %q", updated.Origin)
	}
	if updated.RemoteID != "g1" {
		t.Fatalf("remote link must be preserved, got %q", updated.RemoteID)
	}
	stored, _ := service.Store().Get("r1")
	if stored.Title != "Edited" {
		t.Fatalf("local edit not applied: %#v", stored)
	}
}

func TestUpdateRejectsUnknownRecord(t *testing.T) {
	service := newTestService(t, &fakeRemote{}, nil)
	if _, err := service.Update(context.Background(), Record{ID: "ghost", Title: "x"}); err == nil {
		t.Fatalf("expected error for unknown record")
	}
}

func TestDeleteRemovesLocalCopyDespiteRemoteFailure(t *testing.T) {
	remote := &fakeRemote{deleteErr: errors.New("remote down")}
	service := newTestService(t, remote, nil)
	service.Store().Upsert(Record{ID: "r1", RemoteID: "g1", Origin: OriginLocal})

	if err := service.Delete(context.Background(), "r1"); err != nil {
		t.Fatalf("delete must proceed despite remote failure: %v", err)
	}
	if _, ok := service.Store().Get("r1"); ok {
		t.Fatalf("local copy must be removed unconditionally")
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "g1" {
		t.Fatalf("expected best-effort remote delete of g1, got %v", remote.deleted)
	}
}
