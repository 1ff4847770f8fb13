// File: internal/session/store.go
// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe session Manager.

package session

import (
	"sync"

	"github.com/momentics/hioload-lua/api"
)

// Manager implements sharded storage for sessions.
type Manager[T any] struct {
	shards []*shard[T]
	mask   uint32
}

type shard[T any] struct {
	mu       sync.RWMutex
	sessions map[int]*Session[T]
}

// NewManager constructs a manager with shardCount shards, rounded up to a
// power of two.
func NewManager[T any](shardCount int) *Manager[T] {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard[T], m)
	for i := range shards {
		shards[i] = &shard[T]{sessions: make(map[int]*Session[T])}
	}
	return &Manager[T]{shards: shards, mask: m - 1}
}

func (m *Manager[T]) shard(fd int) *shard[T] {
	return m.shards[uint32(fd)&m.mask]
}

// Create registers a new session for fd.
func (m *Manager[T]) Create(fd int, value T) (*Session[T], error) {
	sh := m.shard(fd)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.sessions[fd]; ok {
		return nil, api.NewError(api.ErrCodeAlreadyExists, "session already registered").
			WithContext("fd", fd)
	}
	s := newSession(fd, value)
	sh.sessions[fd] = s
	return s, nil
}

// Get fetches a session if present.
func (m *Manager[T]) Get(fd int) (*Session[T], bool) {
	sh := m.shard(fd)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.sessions[fd]
	return s, ok
}

// Delete removes the session and cancels it with reason.
func (m *Manager[T]) Delete(fd int, reason string) (*Session[T], bool) {
	sh := m.shard(fd)
	sh.mu.Lock()
	s, ok := sh.sessions[fd]
	if ok {
		delete(sh.sessions, fd)
	}
	sh.mu.Unlock()
	if ok {
		s.Cancel(reason)
	}
	return s, ok
}

// Range applies fn to all sessions. fn must not call back into m.
func (m *Manager[T]) Range(fn func(*Session[T])) {
	for _, sh := range m.shards {
		sh.mu.RLock()
		for _, s := range sh.sessions {
			fn(s)
		}
		sh.mu.RUnlock()
	}
}

// Len returns the number of live sessions.
func (m *Manager[T]) Len() int {
	n := 0
	for _, sh := range m.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
