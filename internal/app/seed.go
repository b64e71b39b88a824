package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"reviews_app/internal/adapters/observability"
	"reviews_app/internal/domain"
)

// SeedReport counts what a seed run wrote.
type SeedReport struct {
	Listings int
	Reviews  int
	Failed   int
}

// SeedService loads a restaurants.json document into the authoritative
// catalog.
type SeedService struct {
	repo    domain.CatalogRepository
	workers int64
}

func NewSeedService(repo domain.CatalogRepository, workers int) *SeedService {
	if workers <= 0 {
		workers = 8
	}
	return &SeedService{repo: repo, workers: int64(workers)}
}

// decodeSeed accepts either {"restaurants": [...]} or a bare array.
func decodeSeed(r io.Reader) ([]map[string]any, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var doc struct {
		Restaurants []map[string]any `json:"restaurants"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return doc.Restaurants, nil
}

// Seed upserts every listing and its embedded reviews, at most workers at
// a time. Embedded reviews get a stable client key, so reseeding does not
// duplicate them.
func (s *SeedService) Seed(ctx context.Context, r io.Reader) (SeedReport, error) {
	raw, err := decodeSeed(r)
	if err != nil {
		return SeedReport{}, err
	}

	var (
		listings, reviews, failed atomic.Int64
		wg                        sync.WaitGroup
		sem                       = semaphore.NewWeighted(s.workers)
	)
	for _, p := range raw {
		l := mapListing(p)
		if l.ID == 0 {
			failed.Add(1)
			continue
		}
		embedded, _ := lookupAny(p, "reviews").([]any)

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return SeedReport{}, err
		}
		wg.Add(1)
		go func(l domain.Listing, embedded []any) {
			defer wg.Done()
			defer sem.Release(1)

			err := s.repo.UpsertListing(ctx, l)
			observability.ObserveSeed("listing", err == nil)
			if err != nil {
				failed.Add(1)
				log.Warn().Int64("id", l.ID).Err(err).Msg("seed listing failed")
				return
			}
			listings.Add(1)
			for i, e := range embedded {
				m, ok := e.(map[string]any)
				if !ok {
					continue
				}
				rv := mapReview(m)
				in := domain.ReviewInput{
					RestaurantID: l.ID,
					Name:         rv.Name,
					Rating:       rv.Rating,
					Comments:     rv.Comments,
					CreatedAt:    rv.CreatedAt,
					UpdatedAt:    rv.UpdatedAt,
					ClientKey:    fmt.Sprintf("seed-%d-%d", l.ID, i),
				}
				_, err := s.repo.CreateReview(ctx, in)
				observability.ObserveSeed("review", err == nil)
				if err != nil {
					failed.Add(1)
					log.Warn().Int64("id", l.ID).Int("review", i).Err(err).Msg("seed review failed")
					continue
				}
				reviews.Add(1)
			}
		}(l, embedded)
	}
	wg.Wait()

	rep := SeedReport{Listings: int(listings.Load()), Reviews: int(reviews.Load()), Failed: int(failed.Load())}
	log.Info().Int("listings", rep.Listings).Int("reviews", rep.Reviews).Int("failed", rep.Failed).Msg("seed completed")
	return rep, nil
}
