// Package websocket
// Author: momentics <momentics@gmail.com>
//
// WebSocket endpoint for script clients. Listeners are registered with the
// epoll server, whose accept hook hands every descriptor to an HTTP server
// performing the upgrade. Binary messages carry the same length-prefixed
// frames as plain sockets and reach scripts through the command queue.
package websocket
