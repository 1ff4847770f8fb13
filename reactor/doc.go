// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexer used by the server event
// loop: a level-triggered epoll instance with an eventfd used to interrupt a
// blocked wait from another goroutine.
package reactor
