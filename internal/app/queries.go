package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"reviews_app/internal/domain"
)

// QueryService serves listing, category and area reads network-first,
// mirroring successes into the local store.
type QueryService struct {
	api   domain.RestaurantAPI
	store domain.LocalStore
	bg    background
}

func NewQueryService(api domain.RestaurantAPI, store domain.LocalStore) *QueryService {
	return &QueryService{api: api, store: store}
}

// Flush blocks until every in-flight mirror write has finished.
func (s *QueryService) Flush() { s.bg.Wait() }

func (s *QueryService) FetchListings(ctx context.Context) ([]domain.Listing, error) {
	return s.listings(ctx, "listings", domain.ListingQuery{})
}

// FetchListingByID returns one listing. An empty network answer is treated
// like a failure so the local copy still gets a chance.
func (s *QueryService) FetchListingByID(ctx context.Context, id int64) (domain.Listing, error) {
	q := domain.ListingQuery{ID: &id}
	recs, err := runRead(ctx, &s.bg, read[domain.Listing]{
		resource:    "listing",
		emptyIsMiss: true,
		network:     s.networkListings(q),
		mirror:      s.mirrorListings,
		local: func(ctx context.Context) ([]domain.Listing, error) {
			var l domain.Listing
			ok, err := s.store.Get(ctx, domain.Listings, id, &l)
			if err != nil || !ok {
				return nil, err
			}
			return []domain.Listing{l}, nil
		},
	})
	if err != nil {
		log.Debug().Err(err).Int64("restaurant_id", id).Msg("listing unavailable")
		return domain.Listing{}, fmt.Errorf("listing %d: %w", id, err)
	}
	return recs[0], nil
}

func (s *QueryService) FetchByCategory(ctx context.Context, category string) ([]domain.Listing, error) {
	if category == domain.AllFilter {
		return s.FetchListings(ctx)
	}
	return s.listings(ctx, "listings by category", domain.ListingQuery{Category: category})
}

func (s *QueryService) FetchByArea(ctx context.Context, area string) ([]domain.Listing, error) {
	if area == domain.AllFilter {
		return s.FetchListings(ctx)
	}
	return s.listings(ctx, "listings by area", domain.ListingQuery{Area: area})
}

func (s *QueryService) FetchByCategoryAndArea(ctx context.Context, category, area string) ([]domain.Listing, error) {
	switch {
	case category == domain.AllFilter && area == domain.AllFilter:
		return s.FetchListings(ctx)
	case category == domain.AllFilter:
		return s.FetchByArea(ctx, area)
	case area == domain.AllFilter:
		return s.FetchByCategory(ctx, category)
	}
	return s.listings(ctx, "listings by category and area", domain.ListingQuery{Category: category, Area: area})
}

// FetchCategories lists distinct cuisine types in first-seen order.
func (s *QueryService) FetchCategories(ctx context.Context) ([]string, error) {
	return s.projection(ctx, "categories", domain.Categories, categoriesOf)
}

// FetchAreas lists distinct neighborhoods in first-seen order.
func (s *QueryService) FetchAreas(ctx context.Context) ([]string, error) {
	return s.projection(ctx, "areas", domain.Areas, areasOf)
}

func (s *QueryService) listings(ctx context.Context, resource string, q domain.ListingQuery) ([]domain.Listing, error) {
	return runRead(ctx, &s.bg, read[domain.Listing]{
		resource: resource,
		network:  s.networkListings(q),
		mirror:   s.mirrorListings,
		local:    func(ctx context.Context) ([]domain.Listing, error) { return localListings(ctx, s.store, q) },
	})
}

// projection derives a distinct value list from all listings. Offline it
// derives from stored listings, keeping first-seen order; the stored set
// (key order) is only used when no listing is stored.
func (s *QueryService) projection(ctx context.Context, resource string, set domain.Collection, of func([]domain.Listing) []string) ([]string, error) {
	ls, netErr := s.networkListings(domain.ListingQuery{})(ctx)
	if netErr == nil {
		if len(ls) > 0 {
			s.bg.Go(ctx, resource, func(ctx context.Context) error { return s.mirrorListings(ctx, ls) })
		}
		return of(ls), nil
	}
	return fallback(ctx, resource, netErr, func(ctx context.Context) ([]string, error) {
		stored, err := localListings(ctx, s.store, domain.ListingQuery{})
		if err != nil {
			log.Warn().Err(err).Str("resource", resource).Msg("local listings read failed")
		}
		if vals := of(stored); len(vals) > 0 {
			return vals, nil
		}
		var vals []string
		if err := s.store.GetAll(ctx, set, &vals); err != nil {
			return nil, err
		}
		return vals, nil
	})
}

func (s *QueryService) networkListings(q domain.ListingQuery) func(ctx context.Context) ([]domain.Listing, error) {
	return func(ctx context.Context) ([]domain.Listing, error) {
		raw, err := s.api.GetRestaurants(ctx, q)
		if err != nil {
			return nil, err
		}
		return mapListings(raw, q), nil
	}
}

// mirrorListings writes listings and their category/area sets in one
// transaction.
func (s *QueryService) mirrorListings(ctx context.Context, ls []domain.Listing) error {
	return mirrorListings(ctx, s.store, ls)
}

func mirrorListings(ctx context.Context, store domain.LocalStore, ls []domain.Listing) error {
	return store.Update(ctx, func(tx domain.StoreTx) error {
		for _, l := range ls {
			if err := tx.Put(domain.Listings, l); err != nil {
				return err
			}
			if l.CuisineType != "" {
				if err := tx.Put(domain.Categories, l.CuisineType, l.CuisineType); err != nil {
					return err
				}
			}
			if l.Neighborhood != "" {
				if err := tx.Put(domain.Areas, l.Neighborhood, l.Neighborhood); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// localListings reads through the narrowest index available and filters
// the rest in memory.
func localListings(ctx context.Context, store domain.LocalStore, q domain.ListingQuery) ([]domain.Listing, error) {
	var ls []domain.Listing
	var err error
	switch {
	case q.ID != nil:
		var l domain.Listing
		ok, gerr := store.Get(ctx, domain.Listings, *q.ID, &l)
		if gerr != nil || !ok {
			return nil, gerr
		}
		ls = []domain.Listing{l}
	case q.HasCategory():
		err = store.GetAllByIndex(ctx, domain.Listings, domain.IndexByCategory, q.Category, &ls)
	case q.HasArea():
		err = store.GetAllByIndex(ctx, domain.Listings, domain.IndexByArea, q.Area, &ls)
	default:
		err = store.GetAll(ctx, domain.Listings, &ls)
	}
	if err != nil {
		return nil, err
	}
	out := ls[:0]
	for _, l := range ls {
		if q.Match(l) {
			out = append(out, l)
		}
	}
	return out, nil
}
