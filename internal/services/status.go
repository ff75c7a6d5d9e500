package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lostradar/lostradar/internal/models"
)

// StatusTracker lets clients poll whether an ingestion has finished. It is
// a latency-hiding convenience, never a system of record: absence means
// either never started or already purged, and the authoritative signal for
// "is this item searchable" is the vector store itself.
//
// The interface exists so a durable multi-instance store (e.g. a TTL'd
// key-value store) can replace the in-memory implementation; the shipped
// one is per-instance.
type StatusTracker interface {
	Set(itemID string, state models.ProcessingState, message string)
	Get(itemID string) (models.ProcessingStatus, bool)
}

// MemoryStatusTracker is the single-instance StatusTracker. Entries are
// purged a retention window after reaching a terminal state.
type MemoryStatusTracker struct {
	mu        sync.RWMutex
	entries   map[string]models.ProcessingStatus
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStatusTracker starts the tracker and its purge loop.
func NewMemoryStatusTracker(retention time.Duration) *MemoryStatusTracker {
	t := &MemoryStatusTracker{
		entries:   make(map[string]models.ProcessingStatus),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go t.janitor()
	return t
}

// Set records a transition. The state machine is strictly one-way:
// attempting to leave a terminal state is a no-op warning, not an error.
func (t *MemoryStatusTracker) Set(itemID string, state models.ProcessingState, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if current, ok := t.entries[itemID]; ok && current.State.Terminal() {
		log.Warn().
			Str("item_id", itemID).
			Str("current", string(current.State)).
			Str("requested", string(state)).
			Msg("Ignoring status transition out of terminal state")
		return
	}

	t.entries[itemID] = models.ProcessingStatus{
		State:     state,
		Message:   message,
		UpdatedAt: time.Now(),
	}
}

// Get returns the current status, or false when absent.
func (t *MemoryStatusTracker) Get(itemID string) (models.ProcessingStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	status, ok := t.entries[itemID]
	return status, ok
}

// Close stops the purge loop.
func (t *MemoryStatusTracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *MemoryStatusTracker) janitor() {
	interval := t.retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.purgeExpired(time.Now())
		case <-t.stop:
			return
		}
	}
}

func (t *MemoryStatusTracker) purgeExpired(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, status := range t.entries {
		if status.State.Terminal() && now.Sub(status.UpdatedAt) > t.retention {
			delete(t.entries, id)
		}
	}
}
