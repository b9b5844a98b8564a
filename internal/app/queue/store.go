// Package queue provides the ordered store of pending voice notifications.
package queue

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/domain/item"
)

var ErrIndexOutOfRange = errors.New("queue index out of range")

// Store is an append-only ordered collection of notification items plus
// the index of the item currently selected for playback (-1 when nothing
// has played yet). Arrival order is the default play order.
type Store struct {
	mu           sync.RWMutex
	items        []item.QueuedItem
	currentIndex int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items:        make([]item.QueuedItem, 0),
		currentIndex: -1,
	}
}

// Append adds an item to the tail and returns its index. Existing items
// are never reordered.
func (s *Store) Append(it item.QueuedItem) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, it)
	return len(s.items) - 1
}

// UpdateStatus sets the status of the item with the given id. Returns
// false without mutating anything when the id is unknown.
func (s *Store) UpdateStatus(id string, status item.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Status = status
			return true
		}
	}
	return false
}

// SetDuration records the decoded duration of the item with the given
// id. No-op when the id is unknown.
func (s *Store) SetDuration(id string, seconds float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].DurationSeconds = seconds
			return true
		}
	}
	return false
}

// IndexOf returns the index of the item with the given id, or -1.
func (s *Store) IndexOf(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// SetCurrentIndex moves the playback cursor. -1 means nothing selected.
func (s *Store) SetCurrentIndex(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < -1 || i >= len(s.items) {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, length %d", i, len(s.items))
	}
	s.currentIndex = i
	return nil
}

// CurrentIndex returns the playback cursor.
func (s *Store) CurrentIndex() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentIndex
}

// Item returns the item at index i.
func (s *Store) Item(i int) (item.QueuedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i < 0 || i >= len(s.items) {
		return item.QueuedItem{}, false
	}
	return s.items[i], true
}

// Current returns the item under the playback cursor.
func (s *Store) Current() (item.QueuedItem, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.currentIndex < 0 || s.currentIndex >= len(s.items) {
		return item.QueuedItem{}, false
	}
	return s.items[s.currentIndex], true
}

// Items returns a snapshot copy of all items in arrival order.
func (s *Store) Items() []item.QueuedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]item.QueuedItem, len(s.items))
	copy(result, s.items)
	return result
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Clear removes all items and resets the cursor. Used only on full reset.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make([]item.QueuedItem, 0)
	s.currentIndex = -1
}
