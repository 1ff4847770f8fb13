// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wire protocol constants

package protocol

const (
	// HeaderLen is the size of the big-endian length prefix.
	HeaderLen = 4

	// MinFrameLen is the smallest buffered amount worth probing.
	MinFrameLen = HeaderLen

	// DefaultMaxFrameLen caps a single frame, prefix included.
	DefaultMaxFrameLen = 64 * 1024
)
