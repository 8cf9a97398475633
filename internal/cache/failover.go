package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// Failover serves from primary until it fails, then from fallback. The primary
// is probed again once the recovery interval has passed; it is trusted again
// only after every delete it missed has been replayed.
type Failover[V any] struct {
	primary   Store[V]
	fallback  Store[V]
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
	recovery  time.Duration
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]struct{} // deletes the primary has not applied
}

func NewFailover[V any](primary, fallback Store[V], logger *zerolog.Logger) *Failover[V] {
	return &Failover[V]{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		recovery: defaultRecoveryInterval,
		now:      time.Now,
		pending:  make(map[string]struct{}),
	}
}

func (f *Failover[V]) markDown(err error) {
	f.logger.Error().Err(err).Msg("Primary cache failed, falling back to memory")
	f.isDown.Store(true)
	f.lastCheck.Store(f.now().UnixNano())
}

func (f *Failover[V]) shouldProbe() bool {
	return f.now().Sub(time.Unix(0, f.lastCheck.Load())) > f.recovery
}

func (f *Failover[V]) Get(ctx context.Context, key string) (V, bool, error) {
	if !f.isDown.Load() {
		v, ok, err := f.primary.Get(ctx, key)
		if err == nil {
			return v, ok, nil
		}
		f.markDown(err)
	} else if f.shouldProbe() {
		if err := f.replayDeletes(ctx); err != nil {
			f.lastCheck.Store(f.now().UnixNano())
			return f.fallback.Get(ctx, key)
		}
		v, ok, err := f.primary.Get(ctx, key)
		if err == nil {
			f.isDown.Store(false)
			f.logger.Info().Msg("Primary cache recovered")
			return v, ok, nil
		}
		f.lastCheck.Store(f.now().UnixNano())
	}

	return f.fallback.Get(ctx, key)
}

func (f *Failover[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if !f.isDown.Load() {
		err := f.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		f.markDown(err)
	}

	return f.fallback.Set(ctx, key, value, ttl)
}

// Delete always clears the fallback. A delete the primary cannot apply is kept
// and replayed before the primary serves reads again.
func (f *Failover[V]) Delete(ctx context.Context, key string) error {
	if err := f.fallback.Delete(ctx, key); err != nil {
		return err
	}
	if err := f.primary.Delete(ctx, key); err != nil {
		f.mu.Lock()
		f.pending[key] = struct{}{}
		f.mu.Unlock()
		if !f.isDown.Load() {
			f.markDown(err)
		}
		return nil
	}
	f.mu.Lock()
	delete(f.pending, key)
	f.mu.Unlock()
	return nil
}

// replayDeletes applies missed deletes to the primary; it stops at the first failure.
func (f *Failover[V]) replayDeletes(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.pending {
		if err := f.primary.Delete(ctx, key); err != nil {
			return err
		}
		delete(f.pending, key)
	}
	return nil
}

// pendingDeletes is the number of deletes the primary still owes.
func (f *Failover[V]) pendingDeletes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}
