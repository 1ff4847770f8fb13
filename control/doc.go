// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration, metrics and debug introspection layer.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads, merged updates and reload listeners
//   - Counters and gauges for loop and dispatcher telemetry
//   - Debug probe registration and state export
//   - Schema-validated JSON configuration files
package control
