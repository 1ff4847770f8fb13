// Package session
// Author: momentics <momentics@gmail.com>
//
// Sharded registry of live sessions keyed by descriptor.
// Each Session maps to one connection owned outside the epoll loop
// (WebSocket peers). Sessions carry a stable id, the owning value and a
// one-shot cancellation signal used to close exactly once.
package session
