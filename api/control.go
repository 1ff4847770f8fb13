// File: api/control.go
// Package api defines Control interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Metrics receives counter increments from hot paths.
type Metrics interface {
	Add(key string, delta int64)
}

// Control manages dynamic config and runtime metrics.
type Control interface {
	Metrics
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	SetMetric(key string, value any)
	RegisterDebugProbe(name string, fn func() any)
}

// NopMetrics discards all increments.
type NopMetrics struct{}

func (NopMetrics) Add(string, int64) {}
