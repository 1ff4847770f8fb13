// File: facade/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package facade assembles the socket server, WebSocket endpoint, script
// dispatcher, cache client and store into one runnable Engine.
package facade
