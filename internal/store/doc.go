// Package store
// Author: momentics <momentics@gmail.com>
//
// SQLite worker pool for scripts. Statements are queued from the script
// goroutine, run on a fixed set of workers, and complete as AsyncResult
// events whose payload is encoded with the configured codec.
package store
