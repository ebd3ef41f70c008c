package slotstat

import "sync/atomic"

// Store is the flat slot array backing one assembled Tree.
// It is allocated once by Assemble and never grows afterwards.
type Store struct {
	slots []atomic.Int64
}

// NewStore creates a store with n zeroed slots
func NewStore(n int) *Store {
	if n < 0 {
		n = 0
	}
	return &Store{slots: make([]atomic.Int64, n)}
}

// Len returns the number of slots
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.slots)
}

// Load reads slot i. Out-of-range slots read as 0.
func (s *Store) Load(i int) int64 {
	if s == nil || i < 0 || i >= len(s.slots) {
		return 0
	}
	return s.slots[i].Load()
}

// Add adds delta to slot i and returns the new value
func (s *Store) Add(i int, delta int64) int64 {
	if s == nil || i < 0 || i >= len(s.slots) {
		return 0
	}
	return s.slots[i].Add(delta)
}

// Set overwrites slot i
func (s *Store) Set(i int, v int64) {
	if s == nil || i < 0 || i >= len(s.slots) {
		return
	}
	s.slots[i].Store(v)
}
