package schedule

import (
	"sort"
	"sync"
	"time"
)

// Store holds the in-memory schedule record set.
//
// Writes go through the Service only; every other component reads. The mutex
// serializes the reconcile swap against single-record writes so neither side
// observes or destroys a half-applied state.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewStore() *Store {
	return &Store{records: make(map[string]Record)}
}

// Replace swaps the whole record set.
func (s *Store) Replace(records []Record) {
	next := make(map[string]Record, len(records))
	for _, record := range records {
		next[record.ID] = record
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
}

// ReplaceFunc swaps the record set for transform(current) while holding the
// write lock. The reconcile pass merges through here so a record upserted
// concurrently is either part of the merge input or lands after the swap;
// a read-merge-swap done in separate calls would drop it.
func (s *Store) ReplaceFunc(transform func(current []Record) []Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		current = append(current, record)
	}
	merged := transform(current)
	next := make(map[string]Record, len(merged))
	for _, record := range merged {
		next[record.ID] = record
	}
	s.records = next
	return len(merged)
}

// Upsert inserts or overwrites a single record.
func (s *Store) Upsert(record Record) {
	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()
}

// Delete removes a record by id and reports whether it existed.
func (s *Store) Delete(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[recordID]; !ok {
		return false
	}
	delete(s.records, recordID)
	return true
}

// Get returns the record with the given id.
func (s *Store) Get(recordID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	return record, ok
}

// List returns all records sorted by start instant, then id for stability.
func (s *Store) List() []Record {
	s.mu.RLock()
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	s.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		left := records[i].StartAt(time.Local)
		right := records[j].StartAt(time.Local)
		if left.Equal(right) {
			return records[i].ID < records[j].ID
		}
		return left.Before(right)
	})
	return records
}

// NextUpcoming returns the nearest record of the given category whose start
// instant is not yet past, evaluated in loc.
func (s *Store) NextUpcoming(now time.Time, category Category, loc *time.Location) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best Record
	var found bool
	for _, record := range s.records {
		if record.Category != category {
			continue
		}
		start := record.StartAt(loc)
		if start.Before(now) {
			continue
		}
		if !found || start.Before(best.StartAt(loc)) {
			best = record
			found = true
		}
	}
	return best, found
}
