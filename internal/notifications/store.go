// internal/notifications/store.go
package notifications

import (
	"iter"
	"slices"
	"sync"
	"sync/atomic"
)

// Predicate selects feed items.
type Predicate func(Item) bool

// All matches every item.
func All() Predicate { return func(Item) bool { return true } }

// Unread matches items not yet marked read.
func Unread() Predicate { return func(it Item) bool { return !it.Read } }

// OfType matches items of one trigger type.
func OfType(t Type) Predicate { return func(it Item) bool { return it.Type == t } }

// And matches items accepted by every predicate.
func And(preds ...Predicate) Predicate {
	return func(it Item) bool {
		for _, p := range preds {
			if !p(it) {
				return false
			}
		}
		return true
	}
}

// Filter is the serialisable form of the predicates consumers ask for.
type Filter struct {
	Type       Type
	UnreadOnly bool
}

// Predicate turns the filter into a Predicate.
func (f Filter) Predicate() Predicate {
	preds := make([]Predicate, 0, 2)
	if f.Type != "" {
		preds = append(preds, OfType(f.Type))
	}
	if f.UnreadOnly {
		preds = append(preds, Unread())
	}
	return And(preds...)
}

// feedState is immutable once published.
type feedState struct {
	items     []Item
	dismissed map[string]struct{}
	version   uint64
}

// Store keeps the reconciled feed and the per-item read state between
// derivation passes. Writers are serialised; readers load the current state
// without locking and never see a half-applied change.
type Store struct {
	mu    sync.Mutex
	state atomic.Pointer[feedState]
}

func NewStore() *Store {
	s := &Store{}
	s.state.Store(&feedState{dismissed: map[string]struct{}{}})
	return s
}

// Reconcile merges a fresh candidate list into the store. New ids start
// unread, known ids keep their read flag and take every other field from the
// candidate, ids missing from candidates are dropped. Dismissed ids stay
// hidden while they keep qualifying and are forgotten once they stop.
func (s *Store) Reconcile(candidates []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Load()
	read := make(map[string]bool, len(prev.items))
	for _, it := range prev.items {
		read[it.ID] = it.Read
	}

	next := &feedState{
		items:     make([]Item, 0, len(candidates)),
		dismissed: make(map[string]struct{}),
		version:   prev.version + 1,
	}
	for _, c := range candidates {
		if _, ok := prev.dismissed[c.ID]; ok {
			next.dismissed[c.ID] = struct{}{}
			continue
		}
		c.Read = read[c.ID]
		next.items = append(next.items, c)
	}
	SortItems(next.items)

	s.state.Store(next)
}

// MarkRead flags one item as read.
func (s *Store) MarkRead(id string) error {
	return s.update(func(items []Item, _ map[string]struct{}) ([]Item, error) {
		i := slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		items[i].Read = true
		return items, nil
	})
}

// MarkAllRead flags every item as read and returns how many changed.
func (s *Store) MarkAllRead() int {
	changed := 0
	s.update(func(items []Item, _ map[string]struct{}) ([]Item, error) {
		for i := range items {
			if !items[i].Read {
				items[i].Read = true
				changed++
			}
		}
		return items, nil
	})
	return changed
}

// Dismiss removes an item from the feed and suppresses it until its
// condition stops holding.
func (s *Store) Dismiss(id string) error {
	return s.update(func(items []Item, dismissed map[string]struct{}) ([]Item, error) {
		i := slices.IndexFunc(items, func(it Item) bool { return it.ID == id })
		if i < 0 {
			return nil, ErrNotFound
		}
		dismissed[id] = struct{}{}
		return slices.Delete(items, i, i+1), nil
	})
}

// update applies fn to private copies of the current state and publishes the
// result unless fn fails.
func (s *Store) update(fn func(items []Item, dismissed map[string]struct{}) ([]Item, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state.Load()
	items := slices.Clone(prev.items)
	dismissed := make(map[string]struct{}, len(prev.dismissed)+1)
	for id := range prev.dismissed {
		dismissed[id] = struct{}{}
	}

	items, err := fn(items, dismissed)
	if err != nil {
		return err
	}
	s.state.Store(&feedState{items: items, dismissed: dismissed, version: prev.version + 1})
	return nil
}

// Filter returns a lazy view over the feed in feed order. Each iteration
// reads the state current at the time it starts, so the sequence can be
// ranged over again to observe later passes.
func (s *Store) Filter(pred Predicate) iter.Seq[Item] {
	if pred == nil {
		pred = All()
	}
	return func(yield func(Item) bool) {
		for _, it := range s.state.Load().items {
			if pred(it) && !yield(it) {
				return
			}
		}
	}
}

// Items collects the filtered feed.
func (s *Store) Items(f Filter) []Item {
	items := slices.Collect(s.Filter(f.Predicate()))
	if items == nil {
		items = []Item{}
	}
	return items
}

// UnreadCount counts items not yet read.
func (s *Store) UnreadCount() int {
	n := 0
	for range s.Filter(Unread()) {
		n++
	}
	return n
}

// Version increases with every published change.
func (s *Store) Version() uint64 {
	return s.state.Load().version
}
