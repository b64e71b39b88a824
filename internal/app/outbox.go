package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

// SyncTagReviews is the wake-up tag that asks for an outbox drain.
const SyncTagReviews = "reviews-outbox"

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Attempted int
	Confirmed []domain.Review
	// Failed records stay in the outbox for the next trigger.
	Failed int
	// Skipped records were already in flight in another drain.
	Skipped int
}

// Outbox replays pending reviews and promotes the ones the server accepts.
type Outbox struct {
	api     domain.RestaurantAPI
	store   domain.LocalStore
	workers int

	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewOutbox(api domain.RestaurantAPI, store domain.LocalStore, workers int) *Outbox {
	if workers <= 0 {
		workers = 4
	}
	return &Outbox{api: api, store: store, workers: workers, inflight: map[int64]struct{}{}}
}

// Drain replays every pending review, or only those for listingID when it
// is set. Listings are drained in parallel; within a listing, records go
// out oldest first. Per-record failures are counted, not returned.
func (o *Outbox) Drain(ctx context.Context, listingID *int64) (DrainReport, error) {
	var pending []domain.PendingReview
	var err error
	if listingID != nil {
		err = o.store.GetAllByIndex(ctx, domain.PendingReviews, domain.IndexByListing, *listingID, &pending)
	} else {
		err = o.store.GetAll(ctx, domain.PendingReviews, &pending)
	}
	if err != nil {
		return DrainReport{}, fmt.Errorf("read outbox: %w", err)
	}

	var (
		rep DrainReport
		mu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, queue := range byListing(pending) {
		g.Go(func() error {
			for _, p := range queue {
				if !o.claim(p.ID) {
					mu.Lock()
					rep.Skipped++
					mu.Unlock()
					continue
				}
				rv, err := o.replay(gctx, p)
				o.release(p.ID)

				mu.Lock()
				rep.Attempted++
				if err != nil {
					rep.Failed++
				} else {
					rep.Confirmed = append(rep.Confirmed, rv)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if rep.Attempted > 0 {
		log.Info().
			Int("attempted", rep.Attempted).
			Int("confirmed", len(rep.Confirmed)).
			Int("failed", rep.Failed).
			Msg("outbox drained")
	}
	return rep, nil
}

// SyncHandler adapts Drain to a wake-up handler: it errors while any
// record is left behind, so the caller keeps the tag and retries.
func (o *Outbox) SyncHandler() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		rep, err := o.Drain(ctx, nil)
		if err != nil {
			return err
		}
		if rep.Failed > 0 {
			return fmt.Errorf("%d pending reviews still unsent", rep.Failed)
		}
		return nil
	}
}

// replay sends one pending review and, on success, deletes it from the
// outbox and stores the confirmed copy in a single transaction.
func (o *Outbox) replay(ctx context.Context, p domain.PendingReview) (domain.Review, error) {
	l := log.With().Int64("pending_id", p.ID).Int64("restaurant_id", p.RestaurantID).Logger()

	resp, err := o.api.CreateReview(ctx, p.ReviewInput)
	if err != nil {
		observability.ObserveReplay(false)
		l.Debug().Err(err).Msg("replay failed; left in outbox")
		return domain.Review{}, err
	}
	rv := mapReview(resp)
	if rv.ID == 0 {
		observability.ObserveReplay(false)
		return domain.Review{}, fmt.Errorf("replay %d: server response has no id", p.ID)
	}
	if rv.ClientKey == "" {
		rv.ClientKey = p.ClientKey
	}

	err = o.store.Update(ctx, func(tx domain.StoreTx) error {
		if err := tx.Delete(domain.PendingReviews, p.ID); err != nil {
			return err
		}
		return tx.Put(domain.Reviews, rv)
	})
	if err != nil {
		// The server has it; the client key makes the next replay a no-op there.
		observability.ObserveReplay(false)
		l.Warn().Err(err).Int64("review_id", rv.ID).Msg("promote confirmed review failed")
		return domain.Review{}, fmt.Errorf("promote %d: %w", p.ID, err)
	}
	observability.ObserveReplay(true)
	l.Debug().Int64("review_id", rv.ID).Msg("pending review confirmed")
	return rv, nil
}

func (o *Outbox) claim(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = struct{}{}
	return true
}

func (o *Outbox) release(id int64) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// byListing groups pending rows per listing, each group in enqueue order.
func byListing(pending []domain.PendingReview) [][]domain.PendingReview {
	idx := map[int64]int{}
	var groups [][]domain.PendingReview
	for _, p := range pending {
		i, ok := idx[p.RestaurantID]
		if !ok {
			i = len(groups)
			idx[p.RestaurantID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], p)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool {
			if !g[i].CreatedAt.Equal(g[j].CreatedAt) {
				return g[i].CreatedAt.Before(g[j].CreatedAt)
			}
			return g[i].ID < g[j].ID
		})
	}
	return groups
}
