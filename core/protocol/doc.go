// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the length-prefixed binary wire protocol spoken by script clients.
//
// Each frame is a big-endian u32 total length (prefix included) followed by an
// opaque body. The body layout belongs to the payload codec, not to this package.
//
// Includes:
//   - Stateless frame extraction over a FrameBuffer
//   - Hard frame size limit against hostile or corrupted peers
//   - Encoding helpers for outbound frames
package protocol
