package domain

import (
	"context"
	"net/http"
	"time"
)

// Collection names one of the five local collections.
type Collection string

const (
	Listings       Collection = "restaurants"
	Categories     Collection = "cuisines"
	Areas          Collection = "neighborhoods"
	Reviews        Collection = "reviews"
	PendingReviews Collection = "reviews-outbox"
)

// Secondary index names.
const (
	IndexByCategory = "by-cuisine"
	IndexByArea     = "by-neighborhood"
	IndexByListing  = "by-restaurant-id"
)

// LocalStore is the on-device store. Reads decode into dst (a pointer to a
// value for Get, a pointer to a slice for GetAll*) and leave an empty result
// when nothing matches.
type LocalStore interface {
	// Put inserts or overwrites. key is required only for collections
	// without a key path (value-as-key sets).
	Put(ctx context.Context, c Collection, v any, key ...any) error
	// Add inserts into an auto-increment collection and returns the new key.
	Add(ctx context.Context, c Collection, v any) (int64, error)
	Get(ctx context.Context, c Collection, key any, dst any) (bool, error)
	GetAll(ctx context.Context, c Collection, dst any) error
	GetAllByIndex(ctx context.Context, c Collection, index string, value any, dst any) error
	Delete(ctx context.Context, c Collection, key any) error
	// Update runs fn in one all-or-nothing transaction.
	Update(ctx context.Context, fn func(tx StoreTx) error) error
	Available() bool
}

// StoreTx is the write surface inside LocalStore.Update.
type StoreTx interface {
	Put(c Collection, v any, key ...any) error
	Delete(c Collection, key any) error
}

// RestaurantAPI is the network transport to the authoritative server.
// Payloads stay loosely typed; mapping happens in the app layer.
type RestaurantAPI interface {
	GetRestaurants(ctx context.Context, q ListingQuery) ([]map[string]any, error)
	GetReviews(ctx context.Context, restaurantID int64) ([]map[string]any, error)
	CreateReview(ctx context.Context, in ReviewInput) (map[string]any, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (map[string]any, error)
}

// Notice is a transient, dismissible message for the UI sink.
type Notice struct {
	Name     string
	Message  string
	Duration time.Duration
}

type Notifier interface {
	Show(n Notice)
}

// WakeRequester asks the background process to run a sync tag later,
// even if the requesting page is gone.
type WakeRequester interface {
	RequestSync(ctx context.Context, tag string) error
}

// CatalogRepository is the authoritative server's storage.
type CatalogRepository interface {
	UpsertListing(ctx context.Context, l Listing) error
	ListListings(ctx context.Context, q ListingQuery) ([]Listing, error)
	GetListing(ctx context.Context, id int64) (Listing, error)
	SetFavorite(ctx context.Context, id int64, favorite bool) (Listing, error)
	ListReviews(ctx context.Context, restaurantID int64) ([]Review, error)
	// CreateReview is idempotent on in.ClientKey when it is set.
	CreateReview(ctx context.Context, in ReviewInput) (Review, error)
}

// StoredResponse is a cached HTTP response.
type StoredResponse struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// CacheStorage is the interception process's private registry of named caches.
type CacheStorage interface {
	Open(ctx context.Context, name string) (Cache, error)
	Has(ctx context.Context, name string) (bool, error)
	Names(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, name string) (bool, error)
	// Match searches every cache, in registry order.
	Match(ctx context.Context, key string) (*StoredResponse, bool, error)
}

type Cache interface {
	Name() string
	Match(ctx context.Context, key string) (*StoredResponse, bool, error)
	Put(ctx context.Context, key string, r *StoredResponse) error
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}

// SyncRegistry durably records wake-up tags until they are handled.
type SyncRegistry interface {
	AddTag(ctx context.Context, tag string) error
	Tags(ctx context.Context) ([]string, error)
	RemoveTag(ctx context.Context, tag string) error
}
