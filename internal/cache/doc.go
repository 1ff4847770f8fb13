// Package cache
// Author: momentics <momentics@gmail.com>
//
// Asynchronous Redis client for scripts. Commands run off the script
// goroutine and complete as AsyncResult events on the command queue.
package cache
