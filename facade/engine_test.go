package facade_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/client"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/facade"
	"github.com/momentics/hioload-lua/script"
)

const notesScript = `
db.exec(0, "CREATE TABLE notes (body TEXT)")

function global_dispatch_command(fd, name, payload)
  if name == "ping" then
    net.send(fd, "pong", {n = payload.n + 1})
  elseif name == "note" then
    db.exec(fd, "INSERT INTO notes (body) VALUES (?)", payload.text)
  elseif name == "list" then
    db.query(fd, "SELECT body FROM notes")
  end
end

function msg_db_result(id, status, value)
  if id ~= 0 then
    net.send(id, "db", {status = status, value = value})
  end
end
`

func startEngine(t *testing.T) *facade.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.lua")
	require.NoError(t, os.WriteFile(path, []byte(notesScript), 0o644))

	fc := control.DefaultFileConfig()
	fc.Script.Path = path
	fc.Listeners = []control.ListenerConfig{
		{Host: "127.0.0.1"},
		{Host: "127.0.0.1", WebSocket: true},
	}
	fc.Store = &control.StoreConfig{DSN: "file::memory:", Workers: 1}

	e, err := facade.New(fc, nil, facade.Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})

	select {
	case <-e.Ready():
	case err := <-done:
		t.Fatalf("engine stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine not ready")
	}
	require.Len(t, e.ListenerPorts(), 2)
	return e
}

func dial(t *testing.T, addr string) *client.Client {
	t.Helper()
	cfg := client.DefaultConfig(addr)
	cfg.ReadTimeout = 2 * time.Second
	c, err := client.Dial(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func roundTrip(t *testing.T, c *client.Client, name string, payload any) (string, any) {
	t.Helper()
	require.NoError(t, c.Send(name, payload))
	gotName, got, err := c.Recv()
	require.NoError(t, err)
	return gotName, got
}

func TestEngine_PingOverBothTransports(t *testing.T) {
	e := startEngine(t)
	ports := e.ListenerPorts()

	for _, addr := range []string{
		fmt.Sprintf("127.0.0.1:%d", ports[0]),
		fmt.Sprintf("ws://127.0.0.1:%d/ws", ports[1]),
	} {
		c := dial(t, addr)
		name, payload := roundTrip(t, c, "ping", map[string]any{"n": 1})
		assert.Equal(t, "pong", name, addr)
		assert.Equal(t, map[string]any{"n": json.Number("2")}, payload, addr)
	}
	assert.GreaterOrEqual(t, e.Control().Stats()[script.MetricDispatched], int64(2))
}

func TestEngine_StoreRoundTrip(t *testing.T) {
	e := startEngine(t)
	c := dial(t, fmt.Sprintf("127.0.0.1:%d", e.ListenerPorts()[0]))

	name, payload := roundTrip(t, c, "note", map[string]any{"text": "hello"})
	require.Equal(t, "db", name)
	res := payload.(map[string]any)
	assert.Equal(t, json.Number("0"), res["status"])
	assert.Equal(t, json.Number("1"), res["value"].(map[string]any)["rows_affected"])

	_, payload = roundTrip(t, c, "list", map[string]any{})
	res = payload.(map[string]any)
	assert.Equal(t, []any{map[string]any{"body": "hello"}}, res["value"])
}

func TestEngine_SingleUse(t *testing.T) {
	e := startEngine(t)
	assert.ErrorIs(t, e.Run(context.Background()), facade.ErrAlreadyStarted)
}

func TestEngine_MissingScript(t *testing.T) {
	fc := control.DefaultFileConfig()
	fc.Script.Path = filepath.Join(t.TempDir(), "absent.lua")
	fc.Listeners = nil
	e, err := facade.New(fc, nil, facade.Options{})
	require.NoError(t, err)
	assert.Error(t, e.Run(context.Background()))
}
