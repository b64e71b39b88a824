package app_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"reviews_app/internal/domain"
	"reviews_app/internal/storage/sqlite"
)

// ---- fakes ----

// fakeAPI is an in-memory authoritative server. It ignores filters on
// purpose; the app layer must filter what it gets back.
type fakeAPI struct {
	mu       sync.Mutex
	down     bool
	listings []map[string]any
	reviews  []map[string]any
	// failNames makes CreateReview fail for reviews by these authors.
	failNames map[string]bool
	created   []domain.ReviewInput
	queries   []domain.ListingQuery
	nextID    float64
}

var errOffline = fmt.Errorf("%w: dial tcp: connection refused", domain.ErrTransport)

func (f *fakeAPI) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeAPI) GetRestaurants(ctx context.Context, q domain.ListingQuery) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if f.down {
		return nil, errOffline
	}
	return append([]map[string]any(nil), f.listings...), nil
}

func (f *fakeAPI) GetReviews(ctx context.Context, restaurantID int64) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errOffline
	}
	var out []map[string]any
	for _, r := range f.reviews {
		if r["restaurant_id"] == float64(restaurantID) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeAPI) CreateReview(ctx context.Context, in domain.ReviewInput) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down || f.failNames[in.Name] {
		return nil, errOffline
	}
	f.created = append(f.created, in)
	for _, r := range f.reviews {
		if in.ClientKey != "" && r["client_key"] == in.ClientKey {
			return r, nil
		}
	}
	f.nextID++
	r := map[string]any{
		"id":            100 + f.nextID,
		"restaurant_id": float64(in.RestaurantID),
		"name":          in.Name,
		"rating":        float64(in.Rating),
		"comments":      in.Comments,
		"createdAt":     float64(in.CreatedAt.UnixMilli()),
		"updatedAt":     float64(in.UpdatedAt.UnixMilli()),
		"client_key":    in.ClientKey,
	}
	f.reviews = append(f.reviews, r)
	return r, nil
}

func (f *fakeAPI) SetFavorite(ctx context.Context, id int64, favorite bool) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("%w: PUT set_favorite: got 500 want 200", domain.ErrUnexpectedStatus)
	}
	// the reference server echoes the flag back as a string
	return map[string]any{"id": float64(id), "is_favorite": fmt.Sprint(favorite)}, nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *fakeNotifier) Show(x domain.Notice) {
	n.mu.Lock()
	n.notices = append(n.notices, x)
	n.mu.Unlock()
}

type fakeWake struct {
	tags []string
}

func (w *fakeWake) RequestSync(ctx context.Context, tag string) error {
	w.tags = append(w.tags, tag)
	return nil
}

// ---- helpers ----

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func listing(id float64, name, cuisine, area string) map[string]any {
	return map[string]any{
		"id":           id,
		"name":         name,
		"cuisine_type": cuisine,
		"neighborhood": area,
		"latlng":       map[string]any{"lat": 40.7, "lng": -73.9},
		"is_favorite":  "false",
		"createdAt":    float64(1504095567183),
		"updatedAt":    "2017-08-30T12:19:27.183Z",
	}
}

func sampleListings() []map[string]any {
	return []map[string]any{
		listing(1, "Mission Chinese Food", "Asian", "Manhattan"),
		listing(2, "Emily", "Pizza", "Brooklyn"),
		listing(3, "Kang Ho Dong Baekjeong", "Asian", "Manhattan"),
		listing(4, "Katz's Delicatessen", "American", "Manhattan"),
		listing(5, "Roberta's Pizza", "Pizza", "Brooklyn"),
		listing(9, "Casa Enrique", "Mexican", "Queens"),
	}
}

func countPending(t *testing.T, s domain.LocalStore) int {
	t.Helper()
	var pending []domain.PendingReview
	if err := s.GetAll(context.Background(), domain.PendingReviews, &pending); err != nil {
		t.Fatalf("read outbox: %v", err)
	}
	return len(pending)
}

func countReviews(t *testing.T, s domain.LocalStore) int {
	t.Helper()
	var rs []domain.Review
	if err := s.GetAll(context.Background(), domain.Reviews, &rs); err != nil {
		t.Fatalf("read reviews: %v", err)
	}
	return len(rs)
}
