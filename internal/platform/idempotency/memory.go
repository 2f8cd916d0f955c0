package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// MemoryStore keeps records in process for local development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryEntry)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	entry, ok := s.records[id]
	if !ok || !now.Before(entry.expiresAt) {
		rec := Record{Fingerprint: fingerprint, Status: StatusPending, CreatedAt: now.UTC()}
		s.records[id] = memoryEntry{record: rec, expiresAt: now.Add(ttl)}
		return Reservation{State: ReservationStateNew, Record: rec}, nil
	}
	return classify(entry.record, fingerprint)
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := storageKey(key)
	if entry, ok := s.records[id]; ok && entry.record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = memoryEntry{record: completedRecord(fingerprint, resp, now), expiresAt: now.Add(ttl)}
	return nil
}

// Release deletes a pending reservation so that subsequent attempts may retry.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := storageKey(key)
	if entry, ok := s.records[id]; ok && entry.record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

func classify(rec Record, fingerprint string) (Reservation, error) {
	if rec.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if rec.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: rec}, nil
	}
	return Reservation{State: ReservationStatePending, Record: rec}, nil
}
