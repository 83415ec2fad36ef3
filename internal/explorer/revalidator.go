package explorer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arpa-simc/provami/internal/metrics"
)

// RevalidationState is the state of the revalidator.
type RevalidationState int

const (
	Idle RevalidationState = iota
	InFlight
)

func (s RevalidationState) String() string {
	if s == InFlight {
		return "in-flight"
	}
	return "idle"
}

const revalidateKey = "revalidate"

// Revalidator runs at most one summary rebuild at a time. Callers arriving
// while a rebuild is in flight wait for that rebuild instead of starting a
// new one.
type Revalidator struct {
	group     singleflight.Group
	rebuild   func(ctx context.Context) error
	onSuccess func()
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics

	mu    sync.Mutex
	state RevalidationState
	runs  int
}

// NewRevalidator wraps rebuild. onSuccess runs after every successful rebuild.
func NewRevalidator(rebuild func(ctx context.Context) error, onSuccess func(), logger *zap.SugaredLogger, m *metrics.Metrics) *Revalidator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Revalidator{
		rebuild:   rebuild,
		onSuccess: onSuccess,
		logger:    logger,
		metrics:   m,
	}
}

// State returns the current state.
func (r *Revalidator) State() RevalidationState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Runs returns how many rebuilds have been started.
func (r *Revalidator) Runs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// Ensure starts a rebuild unless one is in flight, and waits for it. A failed
// rebuild is logged and does not make Ensure fail. The rebuild is not
// cancelled when ctx ends; only the wait is, and then ctx.Err() is returned.
func (r *Revalidator) Ensure(ctx context.Context) error {
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(revalidateKey, func() (any, error) {
		r.setState(InFlight)
		defer r.setState(Idle)

		start := time.Now()
		err := r.rebuild(detached)
		r.metrics.ObserveRevalidation(time.Since(start), err)
		if err != nil {
			r.logger.Errorf("revalidation failed: %v", err)
			return nil, nil
		}
		r.logger.Debugf("revalidation completed in %s", time.Since(start))
		if r.onSuccess != nil {
			r.onSuccess()
		}
		return nil, nil
	})

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Revalidator) setState(s RevalidationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s == InFlight {
		r.runs++
	}
	r.state = s
}
