// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer interface.

package reactor

import "errors"

// ErrUnsupported is returned by NewPoller on platforms without a backend.
var ErrUnsupported = errors.New("reactor: this platform is not supported")

// Interest is the set of readiness conditions a descriptor is watched for.
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite

	InterestReadWrite = InterestRead | InterestWrite
)

// Has reports whether all bits of other are set.
func (i Interest) Has(other Interest) bool { return i&other == other }

// Event is one readiness notification returned by Wait.
type Event struct {
	Fd       int
	Readable bool
	Writable bool
	// Hangup is set on peer shutdown or socket error. The descriptor should
	// still be read until it reports zero bytes or an error.
	Hangup bool
}

// Poller multiplexes readiness over many descriptors. Registration is
// level-triggered. Wait is called from a single goroutine; Wake may be
// called from any goroutine.
type Poller interface {
	// Add starts watching fd.
	Add(fd int, in Interest) error

	// Modify replaces the interest set of a watched fd.
	Modify(fd int, in Interest) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks until readiness, Wake or timeout (ms, -1 = forever) and
	// fills events. Interrupted waits return 0, nil.
	Wait(events []Event, timeoutMs int) (int, error)

	// Wake interrupts a blocked Wait.
	Wake() error

	// Close releases the poller.
	Close() error
}
