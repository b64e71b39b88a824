package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"reviews_app/internal/app"
	"reviews_app/internal/domain"
	"reviews_app/internal/storage/sqlite"
)

var fixedNow = time.Date(2026, 10, 1, 18, 30, 0, 0, time.UTC)

func newReviewService(api *fakeAPI, store domain.LocalStore) (*app.ReviewService, *fakeNotifier, *fakeWake) {
	n := &fakeNotifier{}
	w := &fakeWake{}
	keys := 0
	svc := app.NewReviewService(api, store, app.NewOutbox(api, store, 2), n, w,
		app.WithClock(func() time.Time { return fixedNow }),
		app.WithKeyFunc(func() string { keys++; return "key-" + string(rune('a'+keys-1)) }),
	)
	return svc, n, w
}

func validInput(restaurantID int64, name string) domain.ReviewInput {
	return domain.ReviewInput{
		RestaurantID: restaurantID,
		Name:         name,
		Rating:       4,
		Comments:     "Great dumplings and friendly staff.",
	}
}

func TestCreateReview_OfflineIsDeferred(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc, notices, wake := newReviewService(&fakeAPI{down: true}, store)

	got, err := svc.CreateReview(ctx, validInput(3, "A"))
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil), got (%+v, %v)", got, err)
	}
	if n := countPending(t, store); n != 1 {
		t.Fatalf("pending rows = %d, want 1", n)
	}
	if n := countReviews(t, store); n != 0 {
		t.Fatalf("reviews = %d, want 0", n)
	}
	if len(notices.notices) != 1 || notices.notices[0].Name != app.NoticeDeferOffline {
		t.Fatalf("unexpected notices: %+v", notices.notices)
	}
	if len(wake.tags) != 1 || wake.tags[0] != app.SyncTagReviews {
		t.Fatalf("unexpected wake-up tags: %v", wake.tags)
	}

	var pending []domain.PendingReview
	_ = store.GetAll(ctx, domain.PendingReviews, &pending)
	if !pending[0].CreatedAt.Equal(fixedNow) || !pending[0].UpdatedAt.Equal(fixedNow) {
		t.Fatalf("pending row not stamped: %+v", pending[0])
	}
	if pending[0].ClientKey == "" {
		t.Fatalf("pending row has no client key")
	}
}

func TestCreateReview_OfflineWithoutStoreFails(t *testing.T) {
	api := &fakeAPI{down: true}
	svc, notices, wake := newReviewService(api, sqlite.Unavailable{})

	got, err := svc.CreateReview(context.Background(), validInput(3, "A"))
	if got != nil || !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got (%+v, %v)", got, err)
	}
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("network cause dropped: %v", err)
	}
	if len(notices.notices) != 0 {
		t.Fatalf("unexpected notices: %+v", notices.notices)
	}
	if len(wake.tags) != 0 {
		t.Fatalf("unexpected wake-up tags: %v", wake.tags)
	}
}

func TestCreateReview_OnlineMirrorsCanonicalRecord(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	svc, notices, wake := newReviewService(&fakeAPI{}, store)

	got, err := svc.CreateReview(ctx, validInput(3, "A"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if got == nil || got.ID == 0 || got.Pending {
		t.Fatalf("unexpected review: %+v", got)
	}
	var stored domain.Review
	if ok, _ := store.Get(ctx, domain.Reviews, got.ID, &stored); !ok {
		t.Fatalf("created review not mirrored")
	}
	if countPending(t, store) != 0 || len(notices.notices) != 0 || len(wake.tags) != 0 {
		t.Fatalf("online create must not touch the outbox")
	}
}

func TestCreateReview_InvalidInputIsRejectedUpFront(t *testing.T) {
	api := &fakeAPI{}
	store := openStore(t)
	svc, _, _ := newReviewService(api, store)

	in := validInput(3, "A")
	in.Comments = "too short"
	if _, err := svc.CreateReview(context.Background(), in); !errors.Is(err, domain.ErrInvalidReview) {
		t.Fatalf("expected invalid review, got %v", err)
	}
	if len(api.created) != 0 || countPending(t, store) != 0 {
		t.Fatalf("invalid review must not reach network or outbox")
	}
}

func TestUpdateFavorite(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	if err := store.Put(ctx, domain.Listings, domain.Listing{ID: 2, Name: "Emily", CuisineType: "Pizza"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	api := &fakeAPI{}
	svc, notices, _ := newReviewService(api, store)

	got, err := svc.UpdateFavorite(ctx, 2, true)
	if err != nil || got == nil || !got.IsFavorite || got.Name != "Emily" {
		t.Fatalf("unexpected result: %+v, %v", got, err)
	}
	var stored domain.Listing
	if ok, _ := store.Get(ctx, domain.Listings, 2, &stored); !ok || !stored.IsFavorite {
		t.Fatalf("favorite not mirrored: %+v", stored)
	}
	if len(notices.notices) != 1 || notices.notices[0].Name != app.NoticeFavorite {
		t.Fatalf("unexpected notices: %+v", notices.notices)
	}

	api.setDown(true)
	got, err = svc.UpdateFavorite(ctx, 2, false)
	if got != nil || err == nil {
		t.Fatalf("failed toggle must return no listing, got %+v, %v", got, err)
	}
	_, _ = store.Get(ctx, domain.Listings, 2, &stored)
	if !stored.IsFavorite {
		t.Fatalf("failed toggle must not change the local copy")
	}
}

func TestFetchReviewsForListing_OfflineMergesPendingAndLocal(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	older := domain.Review{ID: 11, RestaurantID: 3, Name: "Old", Rating: 5, Comments: "x", CreatedAt: fixedNow.Add(-48 * time.Hour)}
	if err := store.Put(ctx, domain.Reviews, older); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Put(ctx, domain.Reviews, domain.Review{ID: 12, RestaurantID: 4, Name: "Other"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	api := &fakeAPI{down: true}
	svc, _, _ := newReviewService(api, store)
	if _, err := svc.CreateReview(ctx, validInput(3, "New")); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.FetchReviewsForListing(ctx, 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected pending + local confirmed, got %+v", got)
	}
	if got[0].Name != "New" || !got[0].Pending {
		t.Fatalf("newest pending review should come first: %+v", got[0])
	}
	if got[1].ID != 11 || got[1].Pending {
		t.Fatalf("unexpected second review: %+v", got[1])
	}
}

func TestFetchReviewsForListing_OnlineDrainsAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	api := &fakeAPI{down: true}
	svc, _, _ := newReviewService(api, store)
	if _, err := svc.CreateReview(ctx, validInput(3, "Queued")); err != nil {
		t.Fatalf("create: %v", err)
	}

	api.setDown(false)
	got, err := svc.FetchReviewsForListing(ctx, 3)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	svc.Flush()

	if len(got) != 1 || got[0].Name != "Queued" || got[0].Pending || got[0].ID == 0 {
		t.Fatalf("expected the drained review exactly once, got %+v", got)
	}
	if countPending(t, store) != 0 || countReviews(t, store) != 1 {
		t.Fatalf("drained review must move from outbox to reviews")
	}
	if len(api.created) != 1 {
		t.Fatalf("expected one replay, got %d", len(api.created))
	}
}
