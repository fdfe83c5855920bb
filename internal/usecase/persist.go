package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"endless-chat/internal/domain/ports/repository"
	"endless-chat/internal/infra/metrics"
	"endless-chat/internal/infra/worker"
)

type writeFunc func(ctx context.Context, store repository.KeyValueStore) error

// persister coalesces writes by key and hands them to the pool without
// waiting. Only the latest pending write of a key runs. At most one drain
// task is queued at a time.
type persister struct {
	store repository.KeyValueStore
	pool  *worker.Pool
	log   *zerolog.Logger

	mu        sync.Mutex
	pending   map[string]writeFunc
	order     []string
	scheduled bool
}

func newPersister(store repository.KeyValueStore, pool *worker.Pool, logger *zerolog.Logger) *persister {
	return &persister{store: store, pool: pool, log: logger, pending: make(map[string]writeFunc)}
}

// enqueue replaces any pending write of key. It never blocks on the store.
func (p *persister) enqueue(key string, w writeFunc) {
	if p.store == nil || p.pool == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.pending[key]; !ok {
		p.order = append(p.order, key)
	}
	p.pending[key] = w
	p.mu.Unlock()
	p.schedule()
}

// schedule queues a drain unless one is queued already. When the queue is
// full the writes stay pending for the next enqueue or flush.
func (p *persister) schedule() {
	p.mu.Lock()
	if p.scheduled || len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	p.scheduled = true
	p.mu.Unlock()

	err := p.pool.TrySubmit(p.drain)
	if err == nil {
		return
	}

	p.mu.Lock()
	p.scheduled = false
	dropped := 0
	if errors.Is(err, worker.ErrPoolClosed) {
		dropped = len(p.pending)
		clear(p.pending)
		p.order = nil
	}
	p.mu.Unlock()

	if dropped > 0 {
		metrics.IncSideEffectFailure("persist")
		p.log.Warn().Err(err).Int("writes", dropped).Msg("persist dropped")
		return
	}
	p.log.Debug().Err(err).Msg("persist deferred")
}

// flush queues whatever is still pending.
func (p *persister) flush() {
	if p.store == nil || p.pool == nil {
		return
	}
	p.schedule()
}

func (p *persister) drain(ctx context.Context) error {
	p.mu.Lock()
	order, pending := p.order, p.pending
	p.order, p.pending = nil, make(map[string]writeFunc)
	p.scheduled = false
	p.mu.Unlock()

	var errs []error
	for _, key := range order {
		if err := pending[key](context.WithoutCancel(ctx), p.store); err != nil {
			metrics.IncSideEffectFailure("persist")
			errs = append(errs, fmt.Errorf("persist %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
