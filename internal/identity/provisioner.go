// ABOUTME: Bounded-concurrency acquisition of identity tokens for the fleet.
// ABOUTME: Reuses the persisted cache and provisions any deficit with retrying workers.

package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ztfn-6/sora-fleet/internal/halt"
	"github.com/ztfn-6/sora-fleet/internal/pool"
)

// ErrShortfall indicates provisioning stopped before reaching the desired
// identity count. The returned slice holds whatever subset was obtained;
// callers must not start a partial fleet on it.
var ErrShortfall = errors.New("stopped before reaching desired identity count")

// Provisioner acquires identity tokens, preferring the persisted cache and
// minting the remainder through a Registrar on a bounded worker pool.
type Provisioner struct {
	cache         *Cache
	registrar     Registrar
	stop          *halt.Flag
	workers       int
	retryInterval time.Duration
	logger        *slog.Logger
}

// NewProvisioner creates a Provisioner. workers bounds concurrent
// registration calls; retryInterval is the fixed delay between failed
// attempts by a single worker.
func NewProvisioner(cache *Cache, registrar Registrar, stop *halt.Flag, workers int, retryInterval time.Duration, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		cache:         cache,
		registrar:     registrar,
		stop:          stop,
		workers:       workers,
		retryInterval: retryInterval,
		logger:        logger,
	}
}

// Acquire returns desired identity tokens. If the cache already holds
// enough, the first desired tokens are returned with no network activity.
// Otherwise the deficit is minted concurrently; each worker retries until
// it succeeds or the stop flag (or ctx) ends the run. The full list is
// persisted before returning.
//
// If stopped early, Acquire returns the subset obtained along with
// ErrShortfall.
func (p *Provisioner) Acquire(ctx context.Context, desired int) ([]string, error) {
	existing, err := p.cache.Load()
	if err != nil {
		return nil, err
	}
	if len(existing) >= desired {
		p.logger.Info("identity cache satisfies request",
			"cached", len(existing),
			"desired", desired,
		)
		return existing[:desired], nil
	}

	deficit := desired - len(existing)
	p.logger.Info("provisioning identities",
		"cached", len(existing),
		"minting", deficit,
	)

	// Tie worker retry loops to the stop flag.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	var mu sync.Mutex
	minted := make([]string, 0, deficit)

	workers := pool.New(p.workers)
	for i := 0; i < deficit; i++ {
		workers.Go(func() {
			id, err := p.registerOne(ctx)
			if err != nil {
				return // stopped or cancelled; the shortfall is reported below
			}
			mu.Lock()
			minted = append(minted, id)
			have := len(existing) + len(minted)
			mu.Unlock()
			p.logger.Info("identity minted", "have", have, "desired", desired)
		})
	}
	workers.Wait()

	ids := make([]string, 0, len(existing)+len(minted))
	ids = append(ids, existing...)
	ids = append(ids, minted...)

	// Persistence failure is degraded-mode: the run proceeds on the
	// in-memory list and the cache is simply stale for the next run.
	if err := p.cache.Save(ids); err != nil {
		p.logger.Error("persisting identity cache", "error", err)
	}

	if len(ids) < desired {
		return ids, ErrShortfall
	}
	return ids[:desired], nil
}

// registerOne retries registration at a fixed interval until it succeeds
// or ctx ends. The retry count is unbounded on purpose: a shortfall is a
// caller-visible failure, never a silent partial result.
func (p *Provisioner) registerOne(ctx context.Context) (string, error) {
	policy := backoff.WithContext(backoff.NewConstantBackOff(p.retryInterval), ctx)

	var id string
	op := func() error {
		token, err := p.registrar.Register(ctx)
		if err != nil {
			p.logger.Debug("registration attempt failed", "error", err)
			return err
		}
		id = token
		return nil
	}

	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return id, nil
}
