// Package l1 implements the bounded in-process cache tier.
package l1

import (
	"sync"
	"time"
)

// Store is a fixed-capacity store with insertion-order eviction and a
// store-wide TTL ceiling. SetWithTTL can shorten an entry's lifetime below
// the ceiling, never extend it. Operations never fail on a miss.
type Store struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*node
	head     *node // most recently inserted
	tail     *node // least recently inserted
}

type node struct {
	key       string
	value     any
	expiresAt time.Time
	prev      *node
	next      *node
}

// New creates a store holding at most capacity entries, each living for ttl.
func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = 500
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*node),
	}
}

// Get returns the value for key, or false if absent or expired. Lookups do
// not refresh the entry's position; eviction stays insertion-ordered.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(n.expiresAt) {
		s.remove(n)
		return nil, false
	}
	return n.value, true
}

// Set inserts or replaces a value with the store-wide TTL. Replacing counts
// as a fresh insertion: the TTL restarts and the entry moves to the back of
// the eviction order.
func (s *Store) Set(key string, value any) {
	s.SetWithTTL(key, value, s.ttl)
}

// SetWithTTL inserts or replaces a value with min(ttl, store ceiling).
func (s *Store) SetWithTTL(key string, value any, ttl time.Duration) {
	if ttl <= 0 || ttl > s.ttl {
		ttl = s.ttl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.items[key]; ok {
		n.value = value
		n.expiresAt = time.Now().Add(ttl)
		s.moveToHead(n)
		return
	}

	if len(s.items) >= s.capacity {
		s.evictOldest()
	}

	n := &node{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	s.items[key] = n
	s.addToHead(n)
}

// Delete removes a key, reporting whether it was present and unexpired.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.items[key]
	if !ok {
		return false
	}
	expired := time.Now().After(n.expiresAt)
	s.remove(n)
	return !expired
}

// Keys returns the unexpired keys, pruning expired entries as it goes.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(s.items))
	for n := s.head; n != nil; {
		next := n.next
		if now.After(n.expiresAt) {
			s.remove(n)
		} else {
			keys = append(keys, n.key)
		}
		n = next
	}
	return keys
}

// Len returns the number of unexpired entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for n := s.head; n != nil; {
		next := n.next
		if now.After(n.expiresAt) {
			s.remove(n)
		}
		n = next
	}
	return len(s.items)
}

// Capacity returns the maximum entry count.
func (s *Store) Capacity() int {
	return s.capacity
}

// TTL returns the store-wide entry lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) addToHead(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

func (s *Store) moveToHead(n *node) {
	if n == s.head {
		return
	}
	s.unlink(n)
	s.addToHead(n)
}

func (s *Store) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		s.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		s.tail = n.prev
	}
}

func (s *Store) remove(n *node) {
	s.unlink(n)
	delete(s.items, n.key)
}

func (s *Store) evictOldest() {
	if s.tail == nil {
		return
	}
	s.remove(s.tail)
}
