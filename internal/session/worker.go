package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/arpa-simc/provami/internal/dballe"
	"github.com/arpa-simc/provami/internal/explorer"
	"github.com/arpa-simc/provami/internal/metrics"
)

// ErrClosed is returned for tasks submitted after Close.
var ErrClosed = errors.New("session closed")

type task struct {
	fn     func(dballe.DB) error
	result chan error
}

// worker owns the storage connection and runs tasks on it one at a time, in
// submission order.
type worker struct {
	db      dballe.DB
	tasks   chan task
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newWorker(db dballe.DB, logger *zap.SugaredLogger, m *metrics.Metrics) *worker {
	w := &worker{
		db:      db,
		tasks:   make(chan task),
		logger:  logger,
		metrics: m,
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	for t := range w.tasks {
		w.metrics.QueueAdd(-1)
		t.result <- w.exec(t.fn)
	}
}

func (w *worker) exec(fn func(dballe.DB) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Errorf("panic in session task: %v", r)
			err = fmt.Errorf("%w: %v", explorer.ErrStorageUnavailable, r)
		}
	}()
	return fn(w.db)
}

// Do runs fn on the worker and waits for it. ctx only bounds the wait for a
// free slot: once fn is queued it runs to completion and Do returns its
// result.
func (w *worker) Do(ctx context.Context, fn func(dballe.DB) error) error {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrClosed
	}
	t := task{fn: fn, result: make(chan error, 1)}
	w.metrics.QueueAdd(1)
	select {
	case w.tasks <- t:
		w.mu.RUnlock()
	case <-ctx.Done():
		w.metrics.QueueAdd(-1)
		w.mu.RUnlock()
		return ctx.Err()
	}
	return <-t.result
}

// Close stops accepting tasks and waits for the running one to finish.
func (w *worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()
	<-w.done
}
