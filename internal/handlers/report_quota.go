package handlers

import (
	"sync"
	"time"
)

// reportQuota counts report requests per seller in fixed windows. A nil quota
// admits everything.
type reportQuota struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	sellers map[string]quotaWindow
}

type quotaWindow struct {
	used   int
	resets time.Time
}

func newReportQuota(limit int, window time.Duration, clock func() time.Time) *reportQuota {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &reportQuota{
		limit:   limit,
		window:  window,
		clock:   clock,
		sellers: make(map[string]quotaWindow),
	}
}

// Take spends one request from sellerID's window. When the window is used up it
// returns false and the time left until it resets.
func (q *reportQuota) Take(sellerID string) (bool, time.Duration) {
	if q == nil {
		return true, 0
	}
	now := q.clock()
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.sellers[sellerID]
	if !ok || !now.Before(w.resets) {
		q.dropExpiredLocked(now)
		q.sellers[sellerID] = quotaWindow{used: 1, resets: now.Add(q.window)}
		return true, 0
	}
	if w.used >= q.limit {
		return false, w.resets.Sub(now)
	}
	w.used++
	q.sellers[sellerID] = w
	return true, 0
}

func (q *reportQuota) dropExpiredLocked(now time.Time) {
	for id, w := range q.sellers {
		if !now.Before(w.resets) {
			delete(q.sellers, id)
		}
	}
}

// retryAfterSeconds rounds wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(wait time.Duration) int {
	secs := int((wait + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
