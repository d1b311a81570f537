package schedule

import (
	"context"
	"sync"
	"time"
)

const (
	// ChangeEventReconciled is published after a reconcile pass replaced the store contents.
	ChangeEventReconciled = "schedule-reconciled"
	// ChangeEventUpserted is published after a local create or edit.
	ChangeEventUpserted = "schedule-upserted"
	// ChangeEventDeleted is published after a local delete.
	ChangeEventDeleted = "schedule-deleted"
)

// ChangeNotice tells local consumers that the record set changed.
type ChangeNotice struct {
	EventType string
	RecordIDs []string
	Timestamp time.Time
}

// Dispatcher fans change notices out to subscribed local consumers
// (the dashboard UI stream and the auto-start trigger).
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*changeSubscriber
	nextID      int64
	bufferSize  int
}

type changeSubscriber struct {
	id     int64
	stream chan ChangeNotice
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[int64]*changeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a consumer stream. The stream is dropped when ctx is
// cancelled or the returned cleanup function is called.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan ChangeNotice, func()) {
	subscriber := &changeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ChangeNotice, d.bufferSize),
	}
	d.registerSubscriber(subscriber)
	cleanup := func() {
		d.unregisterSubscriber(subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers a notice to every subscriber without blocking; slow
// consumers miss notices rather than stalling the publisher.
func (d *Dispatcher) Publish(notice ChangeNotice) {
	if notice.EventType == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*changeSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- notice:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) registerSubscriber(subscriber *changeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[subscriber.id] = subscriber
}

func (d *Dispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
