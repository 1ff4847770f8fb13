// File: core/concurrency/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Event types carried from the I/O loop (and async collaborators) to the
// script consumer. Events are plain values; nothing in them refers back into
// a live socket.

package concurrency

// Kind discriminates the Event union.
type Kind int

const (
	KindNewConnection Kind = iota + 1
	KindLostConnection
	KindInboundMessage
	KindAsyncResult
	KindInvocation
)

func (k Kind) String() string {
	switch k {
	case KindNewConnection:
		return "new_connection"
	case KindLostConnection:
		return "lost_connection"
	case KindInboundMessage:
		return "inbound_message"
	case KindAsyncResult:
		return "async_result"
	case KindInvocation:
		return "invocation"
	default:
		return "unknown"
	}
}

// Event is one queued command for the script consumer.
type Event interface {
	Kind() Kind
}

// NewConnection announces a registered connection.
type NewConnection struct {
	ID         uint32
	Descriptor int
	PeerIP     string
	Port       uint16
	WebSocket  bool
}

// LostConnection announces that a connection has been closed and disposed.
type LostConnection struct {
	Descriptor int
	Reason     string
}

// InboundMessage carries one complete wire frame, prefix included.
type InboundMessage struct {
	Descriptor int
	Frame      []byte
}

// AsyncResult is the completion of an upstream request (cache, database).
// Value holds an already translated result; otherwise Payload holds
// codec-encoded bytes. Entry overrides the default script entry point.
type AsyncResult struct {
	CorrelationID uint32
	Status        int
	Message       string
	Payload       []byte
	Value         any
	Entry         string
}

// Null marks an explicit nil result inside AsyncResult.Value, as opposed
// to no value at all.
var Null = null{}

type null struct{}

// Invocation calls a named script function with string arguments.
type Invocation struct {
	Name string
	Args []string
}

func (NewConnection) Kind() Kind  { return KindNewConnection }
func (LostConnection) Kind() Kind { return KindLostConnection }
func (InboundMessage) Kind() Kind { return KindInboundMessage }
func (AsyncResult) Kind() Kind    { return KindAsyncResult }
func (Invocation) Kind() Kind     { return KindInvocation }
