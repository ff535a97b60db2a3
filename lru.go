package edgeguard

import "container/list"

// boundedMap is a string-keyed map with a hard capacity ceiling and
// least-recently-used eviction. Every collection keyed by attacker-controlled
// identifiers (client records, bans, stored secrets, decoy access events) sits
// on one of these; an unbounded map keyed by client input is itself a
// denial-of-service vector.
//
// boundedMap is not safe for concurrent use; owners guard it with their own
// mutex.
type boundedMap struct {
	capacity  int
	entries   map[string]*list.Element
	order     *list.List // front = most recently used
	evictions int64
}

type mapEntry struct {
	key   string
	value any
}

func newBoundedMap(capacity int) *boundedMap {
	if capacity <= 0 {
		capacity = 1024
	}
	return &boundedMap{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the value for key and marks it most recently used.
func (m *boundedMap) Get(key string) (any, bool) {
	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	m.order.MoveToFront(elem)
	return elem.Value.(*mapEntry).value, true
}

// Peek returns the value for key without touching recency.
func (m *boundedMap) Peek(key string) (any, bool) {
	elem, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	return elem.Value.(*mapEntry).value, true
}

// Set inserts or replaces the value for key, evicting the least recently used
// entry when the map is at capacity.
func (m *boundedMap) Set(key string, value any) {
	if elem, ok := m.entries[key]; ok {
		elem.Value.(*mapEntry).value = value
		m.order.MoveToFront(elem)
		return
	}
	if len(m.entries) >= m.capacity {
		m.evictOldest()
	}
	m.entries[key] = m.order.PushFront(&mapEntry{key: key, value: value})
}

func (m *boundedMap) evictOldest() {
	back := m.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*mapEntry)
	m.order.Remove(back)
	delete(m.entries, entry.key)
	m.evictions++
}

// Delete removes key and reports whether it was present.
func (m *boundedMap) Delete(key string) bool {
	elem, ok := m.entries[key]
	if !ok {
		return false
	}
	m.order.Remove(elem)
	delete(m.entries, key)
	return true
}

func (m *boundedMap) Len() int { return len(m.entries) }

func (m *boundedMap) Evictions() int64 { return m.evictions }

// Range calls fn for every entry without affecting recency. fn may delete the
// entry it is visiting. Iteration stops when fn returns false.
func (m *boundedMap) Range(fn func(key string, value any) bool) {
	elem := m.order.Front()
	for elem != nil {
		next := elem.Next()
		entry := elem.Value.(*mapEntry)
		if !fn(entry.key, entry.value) {
			return
		}
		elem = next
	}
}
