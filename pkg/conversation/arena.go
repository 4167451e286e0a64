package conversation

import "sync"

// Arena stores conversation items keyed by id while preserving insertion
// order. Lookups stay O(1) as the transcript grows.
type Arena struct {
	mu    sync.Mutex
	items map[string]*Item
	order []string
}

func NewArena() *Arena {
	return &Arena{items: make(map[string]*Item)}
}

// Put inserts or replaces an item.
func (a *Arena) Put(it *Item) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.items[it.ID]; !ok {
		a.order = append(a.order, it.ID)
	}
	a.items[it.ID] = it
}

// Get returns a snapshot of the item with the given id.
func (a *Arena) Get(id string) (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, ok := a.items[id]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

// Mutate applies fn to the stored item under the arena lock and returns a
// snapshot of the result. It reports false when the id is unknown.
func (a *Arena) Mutate(id string, fn func(*Item)) (Item, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	it, ok := a.items[id]
	if !ok {
		return Item{}, false
	}
	fn(it)
	return it.clone(), true
}

// Items returns snapshots in insertion order.
func (a *Arena) Items() []Item {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Item, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.items[id].clone())
	}
	return out
}

// Len reports the number of stored items.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Reset drops all items.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = make(map[string]*Item)
	a.order = nil
}
