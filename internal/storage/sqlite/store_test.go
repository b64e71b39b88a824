package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"reviews_app/internal/domain"
	"reviews_app/internal/storage/sqlite"
)

func openStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reviews-app.db")
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestPut_SameIDTwice_LastWriteWins(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	first := domain.Listing{ID: 5, Name: "Mission Chinese Food", CuisineType: "Asian", Neighborhood: "Manhattan"}
	second := domain.Listing{ID: 5, Name: "Mission Chinese", CuisineType: "Asian", Neighborhood: "Brooklyn"}
	if err := s.Put(ctx, domain.Listings, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, domain.Listings, second); err != nil {
		t.Fatalf("put: %v", err)
	}

	var all []domain.Listing
	if err := s.GetAll(ctx, domain.Listings, &all); err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(all))
	}
	if all[0].Name != "Mission Chinese" || all[0].Neighborhood != "Brooklyn" {
		t.Fatalf("second put should win, got %+v", all[0])
	}

	// the index must follow the overwrite too
	var inManhattan []domain.Listing
	if err := s.GetAllByIndex(ctx, domain.Listings, domain.IndexByArea, "Manhattan", &inManhattan); err != nil {
		t.Fatalf("by index: %v", err)
	}
	if len(inManhattan) != 0 {
		t.Fatalf("stale index entry: %+v", inManhattan)
	}
}

func TestGetAllByIndex(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	for _, l := range []domain.Listing{
		{ID: 1, Name: "a", CuisineType: "Asian", Neighborhood: "Manhattan"},
		{ID: 2, Name: "b", CuisineType: "Pizza", Neighborhood: "Brooklyn"},
		{ID: 3, Name: "c", CuisineType: "Asian", Neighborhood: "Queens"},
	} {
		if err := s.Put(ctx, domain.Listings, l); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	var asian []domain.Listing
	if err := s.GetAllByIndex(ctx, domain.Listings, domain.IndexByCategory, "Asian", &asian); err != nil {
		t.Fatalf("by index: %v", err)
	}
	if len(asian) != 2 || asian[0].ID != 1 || asian[1].ID != 3 {
		t.Fatalf("unexpected asian listings: %+v", asian)
	}

	var none []domain.Listing
	if err := s.GetAllByIndex(ctx, domain.Listings, domain.IndexByCategory, "Mexican", &none); err != nil {
		t.Fatalf("by index: %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", none)
	}

	if err := s.GetAllByIndex(ctx, domain.Listings, "by-nothing", "x", &none); err == nil {
		t.Fatalf("expected error for unknown index")
	}
}

func TestGetByKey_Missing(t *testing.T) {
	s, _ := openStore(t)
	var l domain.Listing
	ok, err := s.Get(context.Background(), domain.Listings, 42, &l)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestValueAsKeySets_Dedup(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	for _, c := range []string{"Pizza", "Asian", "Pizza"} {
		if err := s.Put(ctx, domain.Categories, c, c); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	var got []string
	if err := s.GetAll(ctx, domain.Categories, &got); err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(got) != 2 || got[0] != "Asian" || got[1] != "Pizza" {
		t.Fatalf("unexpected set contents: %v", got)
	}

	if err := s.Put(ctx, domain.Areas, "Queens"); err == nil {
		t.Fatalf("expected error without explicit key")
	}
	if err := s.Put(ctx, domain.Listings, domain.Listing{ID: 1}, 1); err == nil {
		t.Fatalf("expected error for explicit key on key-path collection")
	}
}

func TestAdd_AssignsKeyAndWritesItBack(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	in := domain.PendingReview{ReviewInput: domain.ReviewInput{
		RestaurantID: 3, Name: "A", Rating: 4, Comments: "lovely noodles, would return", CreatedAt: now, UpdatedAt: now,
	}}
	id1, err := s.Add(ctx, domain.PendingReviews, in)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	id2, err := s.Add(ctx, domain.PendingReviews, in)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if id1 == 0 || id2 <= id1 {
		t.Fatalf("expected increasing ids, got %d then %d", id1, id2)
	}

	var pending []domain.PendingReview
	if err := s.GetAllByIndex(ctx, domain.PendingReviews, domain.IndexByListing, int64(3), &pending); err != nil {
		t.Fatalf("by index: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != id1 || pending[1].ID != id2 {
		t.Fatalf("unexpected pending rows: %+v", pending)
	}
	if !pending[0].CreatedAt.Equal(now) {
		t.Fatalf("createdAt not preserved: %v", pending[0].CreatedAt)
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	if err := s.Put(ctx, domain.Reviews, domain.Review{ID: 9, RestaurantID: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, domain.Reviews, 9); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	var r domain.Review
	if ok, _ := s.Get(ctx, domain.Reviews, 9, &r); ok {
		t.Fatalf("expected review to be gone")
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s, _ := openStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, domain.PendingReviews, domain.PendingReview{ReviewInput: domain.ReviewInput{RestaurantID: 1, Name: "B"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	boom := errors.New("boom")
	err = s.Update(ctx, func(tx domain.StoreTx) error {
		if err := tx.Delete(domain.PendingReviews, id); err != nil {
			return err
		}
		if err := tx.Put(domain.Reviews, domain.Review{ID: 77, RestaurantID: 1, Name: "B"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var p domain.PendingReview
	if ok, _ := s.Get(ctx, domain.PendingReviews, id, &p); !ok {
		t.Fatalf("pending row must survive a rolled back transaction")
	}
	var r domain.Review
	if ok, _ := s.Get(ctx, domain.Reviews, 77, &r); ok {
		t.Fatalf("review must not exist after rollback")
	}
}

func TestOpen_MigrationIsIdempotent(t *testing.T) {
	s, path := openStore(t)
	ctx := context.Background()
	if err := s.Put(ctx, domain.Listings, domain.Listing{ID: 1, Name: "kept"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	again, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()

	v, err := again.SchemaVersion(ctx)
	if err != nil || v != sqlite.SchemaVersion {
		t.Fatalf("schema version = %d, %v", v, err)
	}
	var l domain.Listing
	if ok, _ := again.Get(ctx, domain.Listings, 1, &l); !ok || l.Name != "kept" {
		t.Fatalf("data lost across reopen: %+v", l)
	}
}

func TestUnavailable_ResolvesEmpty(t *testing.T) {
	store, closeFn := sqlite.OpenOrDegrade(context.Background(), "", false)
	defer closeFn()
	if store.Available() {
		t.Fatalf("expected unavailable store")
	}
	ctx := context.Background()
	if err := store.Put(ctx, domain.Listings, domain.Listing{ID: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	var all []domain.Listing
	if err := store.GetAll(ctx, domain.Listings, &all); err != nil {
		t.Fatalf("get all: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("expected empty slice, got %#v", all)
	}
	var l domain.Listing
	if ok, err := store.Get(ctx, domain.Listings, 1, &l); ok || err != nil {
		t.Fatalf("expected miss, got %v %v", ok, err)
	}
}
