//go:build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "reviews_app/internal/adapters/http_server"
	"reviews_app/internal/adapters/restapi"
	"reviews_app/internal/app"
	"reviews_app/internal/domain"
	"reviews_app/internal/storage/sqlite"
	mysqlrepo "reviews_app/internal/storage/mysql"
)

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=reviews"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/reviews?parseTime=true&charset=utf8mb4,utf8&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := mysqlrepo.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

const seedDoc = `{"restaurants": [
  {"id": 1, "name": "Mission Chinese Food", "neighborhood": "Manhattan", "cuisine_type": "Asian",
   "reviews": [{"name": "Steve", "rating": 4, "comments": "Mission Chinese Food has grown up from its scrappy origins."}]},
  {"id": 2, "name": "Emily", "neighborhood": "Brooklyn", "cuisine_type": "Pizza"},
  {"id": 3, "name": "Kang Ho Dong Baekjeong", "neighborhood": "Manhattan", "cuisine_type": "Asian"}
]}`

type quietNotifier struct{ shown atomic.Int32 }

func (n *quietNotifier) Show(domain.Notice) { n.shown.Add(1) }

// TestOfflineRoundTrip drives the client services against the real API
// and MySQL, cutting the network in the middle.
func TestOfflineRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := mysqlrepo.New(startMySQL(t))
	if _, err := app.NewSeedService(repo, 2).Seed(ctx, strings.NewReader(seedDoc)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	srv := server.New()
	srv.MountHandlers(&server.Handlers{Repo: repo})
	var down atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			http.Error(w, "offline", http.StatusServiceUnavailable)
			return
		}
		srv.Mux().ServeHTTP(w, r)
	}))
	defer ts.Close()

	api, err := restapi.New(ts.URL, 100, restapi.WithRetries(0))
	if err != nil {
		t.Fatalf("api: %v", err)
	}
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	notes := &quietNotifier{}
	outbox := app.NewOutbox(api, store, 2)
	queries := app.NewQueryService(api, store)
	reviews := app.NewReviewService(api, store, outbox, notes, nil)

	// online: populate the local store
	if ls, err := queries.FetchListings(ctx); err != nil || len(ls) != 3 {
		t.Fatalf("online listings: %d %v", len(ls), err)
	}
	if rs, err := reviews.FetchReviewsForListing(ctx, 1); err != nil || len(rs) != 1 {
		t.Fatalf("online reviews: %+v %v", rs, err)
	}
	queries.Flush()
	reviews.Flush()

	// offline: reads fall back, writes are queued
	down.Store(true)
	asian, err := queries.FetchByCategory(ctx, "Asian")
	if err != nil || len(asian) != 2 {
		t.Fatalf("offline by category: %d %v", len(asian), err)
	}
	rv, err := reviews.CreateReview(ctx, domain.ReviewInput{
		RestaurantID: 1, Name: "Ana", Rating: 5, Comments: "Went back twice in one week, still great.",
	})
	if err != nil || rv != nil {
		t.Fatalf("offline create should defer: %+v %v", rv, err)
	}
	if notes.shown.Load() != 1 {
		t.Fatalf("notices shown = %d", notes.shown.Load())
	}
	rs, err := reviews.FetchReviewsForListing(ctx, 1)
	if err != nil || len(rs) != 2 || !rs[0].Pending {
		t.Fatalf("offline merged reviews: %+v %v", rs, err)
	}

	// back online: the outbox drains exactly once
	down.Store(false)
	rep, err := outbox.Drain(ctx, nil)
	if err != nil || len(rep.Confirmed) != 1 || rep.Failed != 0 {
		t.Fatalf("drain: %+v %v", rep, err)
	}
	if again, _ := outbox.Drain(ctx, nil); again.Attempted != 0 {
		t.Fatalf("second drain attempted %d", again.Attempted)
	}
	stored, err := repo.ListReviews(ctx, 1)
	if err != nil || len(stored) != 2 {
		t.Fatalf("server reviews: %d %v", len(stored), err)
	}
	reviews.Flush()
}
