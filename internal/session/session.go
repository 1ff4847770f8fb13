// File: internal/session/session.go
// Package session
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core session with cancellation and close reason.

package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session holds per-connection state around a value of type T.
type Session[T any] struct {
	id      string
	fd      int
	value   T
	created time.Time

	once   sync.Once
	done   chan struct{}
	reason string
}

func newSession[T any](fd int, value T) *Session[T] {
	return &Session[T]{
		id:      uuid.NewString(),
		fd:      fd,
		value:   value,
		created: time.Now(),
		done:    make(chan struct{}),
	}
}

// ID returns the unique session identifier.
func (s *Session[T]) ID() string { return s.id }

// Fd returns the descriptor the session is registered under.
func (s *Session[T]) Fd() int { return s.fd }

// Value returns the owned connection value.
func (s *Session[T]) Value() T { return s.value }

// Created returns the registration time.
func (s *Session[T]) Created() time.Time { return s.created }

// Cancel signals teardown with reason. Only the first call wins; it
// reports whether this call did the cancellation.
func (s *Session[T]) Cancel(reason string) bool {
	won := false
	s.once.Do(func() {
		s.reason = reason
		close(s.done)
		won = true
	})
	return won
}

// Done returns a channel closed upon cancellation.
func (s *Session[T]) Done() <-chan struct{} {
	return s.done
}

// Reason returns the cancellation reason, empty while the session is live.
func (s *Session[T]) Reason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}
