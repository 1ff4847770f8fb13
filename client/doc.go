// Package client
// Author: momentics <momentics@gmail.com>
//
// Go client for the length-prefixed message protocol, over plain TCP or
// WebSocket. Used by tools, examples and end-to-end tests.
package client
