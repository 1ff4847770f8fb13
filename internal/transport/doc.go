// File: internal/transport/doc.go
// Package transport
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thin non-blocking TCP socket layer for the event loop. Descriptors are raw
// ints owned by the caller; readiness is tracked by the reactor package.
// Platform code is separated by build tags.

package transport
