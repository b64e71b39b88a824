package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"reviews_app/internal/domain"
)

// Notice names shown through the Notifier.
const (
	NoticeDeferOffline = "defer-offline"
	NoticeFavorite     = "fav-restaurant"
)

const noticeDuration = 4 * time.Second

// ReviewService owns the write paths and the reviews read-then-reconcile.
type ReviewService struct {
	api      domain.RestaurantAPI
	store    domain.LocalStore
	outbox   *Outbox
	notifier domain.Notifier
	wake     domain.WakeRequester

	bg     background
	now    func() time.Time
	newKey func() string
}

type ReviewOption func(*ReviewService)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) ReviewOption { return func(s *ReviewService) { s.now = now } }

// WithKeyFunc overrides how client keys are generated.
func WithKeyFunc(fn func() string) ReviewOption { return func(s *ReviewService) { s.newKey = fn } }

func NewReviewService(api domain.RestaurantAPI, store domain.LocalStore, outbox *Outbox,
	n domain.Notifier, wake domain.WakeRequester, opts ...ReviewOption) *ReviewService {
	s := &ReviewService{
		api:      api,
		store:    store,
		outbox:   outbox,
		notifier: n,
		wake:     wake,
		now:      func() time.Time { return time.Now().UTC() },
		newKey:   uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Flush blocks until every in-flight mirror write has finished.
func (s *ReviewService) Flush() { s.bg.Wait() }

// CreateReview posts the review. When the server cannot be reached the
// review is queued in the outbox, the user is told, a wake-up is requested,
// and (nil, nil) is returned. Without a local store there is nowhere to queue
// it, so the failure is returned instead.
func (s *ReviewService) CreateReview(ctx context.Context, in domain.ReviewInput) (*domain.Review, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	in.CreatedAt, in.UpdatedAt = now, now
	if in.ClientKey == "" {
		in.ClientKey = s.newKey()
	}

	resp, err := s.api.CreateReview(ctx, in)
	if err == nil {
		rv := mapReview(resp)
		if rv.ID != 0 {
			if rv.ClientKey == "" {
				rv.ClientKey = in.ClientKey
			}
			if perr := s.store.Put(ctx, domain.Reviews, rv); perr != nil {
				log.Warn().Err(perr).Int64("review_id", rv.ID).Msg("mirror created review failed")
			}
			return &rv, nil
		}
		err = fmt.Errorf("create review: server response has no id")
	}

	if !s.store.Available() {
		log.Warn().Err(err).Int64("restaurant_id", in.RestaurantID).Msg("review not sent and no outbox to queue it")
		return nil, fmt.Errorf("queue review: %w: %w", domain.ErrStoreUnavailable, err)
	}
	log.Info().Err(err).Int64("restaurant_id", in.RestaurantID).Msg("review deferred to outbox")
	id, qerr := s.store.Add(ctx, domain.PendingReviews, domain.PendingReview{ReviewInput: in})
	if qerr != nil {
		return nil, fmt.Errorf("queue review: %w", qerr)
	}
	log.Debug().Int64("pending_id", id).Msg("review queued")

	s.notify(domain.Notice{
		Name:     NoticeDeferOffline,
		Message:  "You are offline. Your review will be submitted when you are back online.",
		Duration: noticeDuration,
	})
	if s.wake != nil {
		if werr := s.wake.RequestSync(ctx, SyncTagReviews); werr != nil {
			log.Warn().Err(werr).Msg("wake-up request failed; next reviews read will drain")
		}
	}
	return nil, nil
}

// UpdateFavorite sets the favorite flag on the server and mirrors it
// locally. Any failure returns a nil listing; the toggle must not be assumed.
func (s *ReviewService) UpdateFavorite(ctx context.Context, id int64, favorite bool) (*domain.Listing, error) {
	resp, err := s.api.SetFavorite(ctx, id, favorite)
	if err != nil {
		log.Info().Err(err).Int64("restaurant_id", id).Msg("favorite toggle failed")
		return nil, err
	}

	l := mapListing(resp)
	if l.ID != id || l.Name == "" {
		// partial response; patch the local copy instead
		var local domain.Listing
		if ok, gerr := s.store.Get(ctx, domain.Listings, id, &local); gerr == nil && ok {
			local.IsFavorite = favorite
			if !l.UpdatedAt.IsZero() {
				local.UpdatedAt = l.UpdatedAt
			}
			l = local
		} else {
			l = domain.Listing{ID: id, IsFavorite: favorite, UpdatedAt: l.UpdatedAt}
		}
	}
	l.IsFavorite = favorite

	if l.Name != "" {
		if perr := mirrorListings(ctx, s.store, []domain.Listing{l}); perr != nil {
			log.Warn().Err(perr).Int64("restaurant_id", id).Msg("mirror favorite failed")
		}
	}

	msg := "You unfavorited restaurant"
	if favorite {
		msg = "You favorited restaurant"
	}
	s.notify(domain.Notice{Name: NoticeFavorite, Message: msg, Duration: noticeDuration})
	return &l, nil
}

// FetchReviewsForListing drains the listing's outbox while fetching its
// confirmed reviews, then merges confirmed and still-pending reviews,
// newest first. Offline, confirmed reviews come from the local store.
func (s *ReviewService) FetchReviewsForListing(ctx context.Context, id int64) ([]domain.Review, error) {
	var (
		confirmed []domain.Review
		netErr    error
		drained   DrainReport
		done      = make(chan struct{})
	)
	go func() {
		defer close(done)
		var err error
		drained, err = s.outbox.Drain(ctx, &id)
		if err != nil {
			log.Warn().Err(err).Int64("restaurant_id", id).Msg("outbox drain failed")
		}
	}()

	raw, netErr := s.api.GetReviews(ctx, id)
	if netErr == nil {
		confirmed = filterReviews(mapReviews(raw), id)
	}
	<-done

	if netErr == nil {
		if len(confirmed) > 0 {
			recs := confirmed
			s.bg.Go(ctx, "reviews", func(ctx context.Context) error { return mirrorReviews(ctx, s.store, recs) })
		}
	} else {
		log.Debug().Err(netErr).Int64("restaurant_id", id).Msg("reviews from local store")
		var local []domain.Review
		if err := s.store.GetAllByIndex(ctx, domain.Reviews, domain.IndexByListing, id, &local); err != nil {
			log.Warn().Err(err).Msg("local reviews read failed")
		}
		confirmed = local
	}
	confirmed = append(confirmed, drained.Confirmed...)

	var pending []domain.PendingReview
	if err := s.store.GetAllByIndex(ctx, domain.PendingReviews, domain.IndexByListing, id, &pending); err != nil {
		log.Warn().Err(err).Msg("local outbox read failed")
	}
	return mergeReviews(confirmed, pending), nil
}

func (s *ReviewService) notify(n domain.Notice) {
	if s.notifier != nil {
		s.notifier.Show(n)
	}
}

func mirrorReviews(ctx context.Context, store domain.LocalStore, rs []domain.Review) error {
	return store.Update(ctx, func(tx domain.StoreTx) error {
		for _, r := range rs {
			if err := tx.Put(domain.Reviews, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func filterReviews(rs []domain.Review, restaurantID int64) []domain.Review {
	out := rs[:0]
	for _, r := range rs {
		if r.RestaurantID == restaurantID || r.RestaurantID == 0 {
			if r.RestaurantID == 0 {
				r.RestaurantID = restaurantID
			}
			out = append(out, r)
		}
	}
	return out
}
