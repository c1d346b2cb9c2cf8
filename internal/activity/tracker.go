// Package activity records recent user interest per instrument. The
// scheduler consults it to pick a polling cadence.
package activity

import (
	"hash/fnv"
	"sync"
	"time"

	"market-alerts/internal/models"
)

type shard struct {
	mu sync.RWMutex
	// symbol -> user -> last seen
	seen map[string]map[string]time.Time
}

// Tracker is a sharded map of activity records. A record is active while
// now - lastSeen < timeout; stale records are ignored and evicted lazily.
type Tracker struct {
	shards  []*shard
	timeout time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker with the given activity timeout.
func NewTracker(timeout time.Duration, shards int) *Tracker {
	if shards <= 0 {
		shards = 16
	}
	t := &Tracker{
		shards:  make([]*shard, shards),
		timeout: timeout,
		now:     time.Now,
	}
	for i := range t.shards {
		t.shards[i] = &shard{seen: make(map[string]map[string]time.Time)}
	}
	return t
}

// SetClock replaces the tracker's time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Timeout returns the activity timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

func (t *Tracker) shardFor(symbol string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return t.shards[h.Sum32()%uint32(len(t.shards))]
}

// Record marks userID as active on symbol now and returns the normalized
// symbol.
func (t *Tracker) Record(userID, symbol string) string {
	symbol = models.NormalizeSymbol(symbol)
	now := t.now()

	s := t.shardFor(symbol)
	s.mu.Lock()
	users, ok := s.seen[symbol]
	if !ok {
		users = make(map[string]time.Time)
		s.seen[symbol] = users
	}
	users[userID] = now
	s.mu.Unlock()
	return symbol
}

// HasActiveUser reports whether any user was active on symbol within the
// timeout.
func (t *Tracker) HasActiveUser(symbol string) bool {
	_, ok := t.LastSeen(symbol)
	return ok
}

// LastSeen returns the most recent active record of symbol.
func (t *Tracker) LastSeen(symbol string) (time.Time, bool) {
	symbol = models.NormalizeSymbol(symbol)
	now := t.now()

	s := t.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest time.Time
	found := false
	for _, at := range s.seen[symbol] {
		if now.Sub(at) < t.timeout && (!found || at.After(latest)) {
			latest, found = at, true
		}
	}
	return latest, found
}

// ActiveUsers returns how many users are active on symbol.
func (t *Tracker) ActiveUsers(symbol string) int {
	symbol = models.NormalizeSymbol(symbol)
	now := t.now()

	s := t.shardFor(symbol)
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, at := range s.seen[symbol] {
		if now.Sub(at) < t.timeout {
			n++
		}
	}
	return n
}

// Sweep evicts stale records and returns how many were removed.
func (t *Tracker) Sweep() int {
	now := t.now()
	removed := 0
	for _, s := range t.shards {
		s.mu.Lock()
		for symbol, users := range s.seen {
			for user, at := range users {
				if now.Sub(at) >= t.timeout {
					delete(users, user)
					removed++
				}
			}
			if len(users) == 0 {
				delete(s.seen, symbol)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored records, stale ones included.
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.RLock()
		for _, users := range s.seen {
			n += len(users)
		}
		s.mu.RUnlock()
	}
	return n
}
