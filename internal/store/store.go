// File: internal/store/store.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-lua/api"
	"github.com/momentics/hioload-lua/codec"
	"github.com/momentics/hioload-lua/control"
	"github.com/momentics/hioload-lua/core/concurrency"
)

const (
	DefaultEntry   = "msg_db_result"
	DefaultWorkers = 2
	StatusFailed   = -1

	MetricStatements = "store.statements"
	MetricErrors     = "store.errors"

	jobsPerWorker = 256
)

// Option customizes a Store.
type Option func(*Store)

func WithLogger(log *zap.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithMetrics(m api.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithEntry overrides the script function receiving results.
func WithEntry(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.entry = name
		}
	}
}

type kind int

const (
	kindQuery kind = iota
	kindExec
)

type job struct {
	kind   kind
	cookie uint32
	query  string
	args   []any
}

// Store runs SQL statements on a worker pool.
type Store struct {
	db      *sql.DB
	queue   *concurrency.CommandQueue
	codec   codec.Codec
	entry   string
	log     *zap.Logger
	metrics api.Metrics

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// Open connects to cfg.DSN and starts the workers.
func Open(cfg control.StoreConfig, queue *concurrency.CommandQueue, c codec.Codec, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if strings.Contains(cfg.DSN, ":memory:") {
		// every pooled connection would see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if c == nil {
		c = codec.JSON{}
	}
	s := &Store{
		db:      db,
		queue:   queue,
		codec:   c,
		entry:   DefaultEntry,
		log:     zap.NewNop(),
		metrics: api.NopMetrics{},
		jobs:    make(chan job, workers*jobsPerWorker),
	}
	for _, o := range opts {
		o(s)
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.log.Info("store opened", zap.String("dsn", cfg.DSN), zap.Int("workers", workers))
	return s, nil
}

// Query runs a row-returning statement. The result payload is a list of
// rows, each a column-name keyed map.
func (s *Store) Query(cookie uint32, query string, args ...any) error {
	return s.submit(job{kind: kindQuery, cookie: cookie, query: query, args: args})
}

// Exec runs a statement; the result payload holds rows_affected and
// last_insert_id.
func (s *Store) Exec(cookie uint32, query string, args ...any) error {
	return s.submit(job{kind: kindExec, cookie: cookie, query: query, args: args})
}

func (s *Store) submit(j job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return api.ErrClosed
	}
	select {
	case s.jobs <- j:
		s.metrics.Add(MetricStatements, 1)
		return nil
	default:
		return fmt.Errorf("store: %w: job queue full", api.ErrResourceExhausted)
	}
}

func (s *Store) worker() {
	defer s.wg.Done()
	for j := range s.jobs {
		s.queue.Enqueue(s.run(j))
	}
}

func (s *Store) run(j job) concurrency.AsyncResult {
	ev := concurrency.AsyncResult{CorrelationID: j.cookie, Entry: s.entry}
	var (
		value any
		err   error
	)
	switch j.kind {
	case kindQuery:
		value, err = s.query(j)
	default:
		value, err = s.exec(j)
	}
	if err == nil {
		ev.Payload, err = s.codec.EncodeValue(value)
	}
	if err != nil {
		s.metrics.Add(MetricErrors, 1)
		s.log.Debug("statement failed", zap.Uint32("cookie", j.cookie), zap.Error(err))
		ev.Status = StatusFailed
		ev.Message = err.Error()
		ev.Payload = nil
	}
	return ev
}

func (s *Store) query(j job) ([]any, error) {
	rows, err := s.db.QueryContext(context.Background(), j.query, j.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := []any{}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) exec(j job) (map[string]any, error) {
	res, err := s.db.ExecContext(context.Background(), j.query, j.args...)
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return map[string]any{"rows_affected": affected, "last_insert_id": lastID}, nil
}

// Close drains queued statements, stops the workers and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.wg.Wait()
	return s.db.Close()
}
