package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

// read is one network-first read: try the server, mirror what it returned,
// otherwise answer from the local store.
type read[T any] struct {
	resource string
	// emptyIsMiss treats an empty network answer like a failure.
	emptyIsMiss bool
	network     func(ctx context.Context) ([]T, error)
	mirror      func(ctx context.Context, recs []T) error
	local       func(ctx context.Context) ([]T, error)
}

func runRead[T any](ctx context.Context, bg *background, r read[T]) ([]T, error) {
	recs, netErr := r.network(ctx)
	if netErr == nil && (len(recs) > 0 || !r.emptyIsMiss) {
		if r.mirror != nil && len(recs) > 0 {
			bg.Go(ctx, r.resource, func(ctx context.Context) error { return r.mirror(ctx, recs) })
		}
		return recs, nil
	}
	if netErr == nil {
		netErr = fmt.Errorf("%s: %w", r.resource, domain.ErrNotFound)
	}
	log.Debug().Err(netErr).Str("resource", r.resource).Msg("network read failed; trying local store")
	return fallback(ctx, r.resource, netErr, r.local)
}

// fallback answers from the local store. A local failure counts as empty.
func fallback[T any](ctx context.Context, resource string, netErr error, local func(ctx context.Context) ([]T, error)) ([]T, error) {
	recs, err := local(ctx)
	if err != nil {
		log.Warn().Err(err).Str("resource", resource).Msg("local store read failed")
		recs = nil
	}
	if len(recs) == 0 {
		observability.ObserveFallback(resource, false)
		return nil, &domain.EmptyFallbackError{Resource: resource, Network: netErr}
	}
	observability.ObserveFallback(resource, true)
	return recs, nil
}

// background runs fire-and-forget local writes. The caller's answer never
// waits on them; Wait exists for shutdown and tests.
type background struct {
	wg sync.WaitGroup
}

func (b *background) Go(ctx context.Context, what string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Str("resource", what).Msg("mirror to local store failed")
		}
	}()
}

func (b *background) Wait() { b.wg.Wait() }
