// control/loader.go
// Author: momentics <momentics@gmail.com>
//
// JSON configuration file loading with schema validation.

package control

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/momentics/hioload-lua/api"
)

//go:embed config.schema.json
var configSchema []byte

// Keys published into a ConfigStore by FileConfig.Flatten.
const (
	KeyMaxFrameLen       = "limits.max_frame_len"
	KeyMaxInboundBuffer  = "limits.max_inbound_buffer"
	KeyMaxOutboundBuffer = "limits.max_outbound_buffer"
	KeyLogLevel          = "log.level"
	KeyScriptPath        = "script.path"
	KeyScriptCodec       = "script.codec"
)

// LogConfig selects the logger flavour.
type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// ScriptConfig locates the script and tunes dispatch.
type ScriptConfig struct {
	Path       string            `json:"path"`
	IntervalMs int               `json:"interval_ms"`
	Codec      string            `json:"codec"`
	Entries    map[string]string `json:"entries,omitempty"`
}

// ListenerConfig is one listening endpoint.
type ListenerConfig struct {
	Host        string `json:"host"`
	Port        uint16 `json:"port"`
	WebSocket   bool   `json:"websocket"`
	Compression bool   `json:"compression"`
}

// LimitsConfig bounds frames and per-socket buffers. Zero buffers are unbounded.
type LimitsConfig struct {
	MaxFrameLen       int `json:"max_frame_len"`
	MaxInboundBuffer  int `json:"max_inbound_buffer"`
	MaxOutboundBuffer int `json:"max_outbound_buffer"`
}

// CacheConfig configures the key/value cache client.
type CacheConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	TimeoutMs int    `json:"timeout_ms"`
}

// StoreConfig configures the SQL worker pool.
type StoreConfig struct {
	DSN     string `json:"dsn"`
	Workers int    `json:"workers"`
}

// FileConfig is the on-disk configuration document.
type FileConfig struct {
	Log       LogConfig        `json:"log"`
	Script    ScriptConfig     `json:"script"`
	Listeners []ListenerConfig `json:"listeners"`
	Limits    LimitsConfig     `json:"limits"`
	Cache     *CacheConfig     `json:"cache,omitempty"`
	Store     *StoreConfig     `json:"store,omitempty"`
}

// DefaultFileConfig returns the configuration used when no file is given.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Log:    LogConfig{Level: "info"},
		Script: ScriptConfig{Path: "main.lua", IntervalMs: 10, Codec: "json"},
		Listeners: []ListenerConfig{
			{Host: "0.0.0.0", Port: 9000},
		},
		Limits: LimitsConfig{MaxFrameLen: 64 * 1024},
	}
}

// LoadFile reads, validates and decodes a configuration file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates data against the embedded schema and decodes it over the
// defaults. Absent sections keep their default values.
func Parse(data []byte) (*FileConfig, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, fmt.Sprintf("schema validation: %v", err))
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, api.NewError(api.ErrCodeInvalidArgument, "invalid config").
			WithContext("errors", strings.Join(details, "; "))
	}

	cfg := DefaultFileConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Flatten publishes the runtime-tunable settings as ConfigStore keys.
func (fc *FileConfig) Flatten() map[string]any {
	return map[string]any{
		KeyMaxFrameLen:       int64(fc.Limits.MaxFrameLen),
		KeyMaxInboundBuffer:  int64(fc.Limits.MaxInboundBuffer),
		KeyMaxOutboundBuffer: int64(fc.Limits.MaxOutboundBuffer),
		KeyLogLevel:          fc.Log.Level,
		KeyScriptPath:        fc.Script.Path,
		KeyScriptCodec:       fc.Script.Codec,
	}
}
