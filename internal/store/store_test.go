package store_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/concurrency"
	"github.com/momentics/hioload-lua/internal/store"
)

func open(t *testing.T, workers int) (*store.Store, *concurrency.CommandQueue) {
	t.Helper()
	q := concurrency.NewCommandQueue()
	s, err := store.Open(control.StoreConfig{DSN: ":memory:", Workers: workers}, q, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, q
}

func await(t *testing.T, q *concurrency.CommandQueue, n int) []concurrency.AsyncResult {
	t.Helper()
	var out []concurrency.AsyncResult
	require.Eventually(t, func() bool {
		for _, ev := range q.DrainAll() {
			out = append(out, ev.(concurrency.AsyncResult))
		}
		return len(out) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return out
}

func decode(t *testing.T, payload []byte) any {
	t.Helper()
	v, err := codec.JSON{}.DecodeValue(payload)
	require.NoError(t, err)
	return v
}

func TestStore_ExecAndQuery(t *testing.T) {
	s, q := open(t, 1)

	require.NoError(t, s.Exec(1, "create table users (id integer primary key, name text)"))
	require.NoError(t, s.Exec(2, "insert into users (name) values (?), (?)", "ann", "bob"))
	require.NoError(t, s.Query(3, "select id, name from users order by id"))
	res := await(t, q, 3)

	for _, r := range res {
		assert.Equal(t, 0, r.Status, r.Message)
		assert.Equal(t, store.DefaultEntry, r.Entry)
	}
	assert.Equal(t, map[string]any{
		"rows_affected":  json.Number("2"),
		"last_insert_id": json.Number("2"),
	}, decode(t, res[1].Payload))
	assert.Equal(t, []any{
		map[string]any{"id": json.Number("1"), "name": "ann"},
		map[string]any{"id": json.Number("2"), "name": "bob"},
	}, decode(t, res[2].Payload))
}

func TestStore_EmptyResultIsList(t *testing.T) {
	s, q := open(t, 1)
	require.NoError(t, s.Query(1, "select 1 where 0"))
	res := await(t, q, 1)
	assert.Equal(t, []any{}, decode(t, res[0].Payload))
}

func TestStore_StatementError(t *testing.T) {
	s, q := open(t, 1)
	require.NoError(t, s.Query(9, "select * from missing"))
	res := await(t, q, 1)
	assert.Equal(t, uint32(9), res[0].CorrelationID)
	assert.Equal(t, store.StatusFailed, res[0].Status)
	assert.Contains(t, res[0].Message, "missing")
	assert.Nil(t, res[0].Payload)
}

func TestStore_Close(t *testing.T) {
	s, _ := open(t, 2)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Exec(1, "select 1"), api.ErrClosed)
	assert.NoError(t, s.Close())
}
