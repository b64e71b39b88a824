package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"reviews_app/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the embedded schema one statement at a time, so the DSN
// does not need multiStatements.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func valStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func valTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
func valJSON(m map[string]string) any {
	if len(m) == 0 {
		return nil
	}
	b, _ := json.Marshal(m)
	return string(b)
}

type Repo struct{ db *sql.DB }

var _ domain.CatalogRepository = (*Repo)(nil)

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertListing(ctx context.Context, l domain.Listing) error {
	var lat, lng any
	if l.LatLng != nil {
		lat, lng = l.LatLng.Lat, l.LatLng.Lng
	}
	_, err := r.db.ExecContext(ctx, upsertListingSQL,
		l.ID,
		l.Name,
		l.Neighborhood,
		l.CuisineType,
		l.Address,
		l.Photograph,
		lat, lng,
		valJSON(l.OperatingHours),
		l.IsFavorite,
		valTime(l.CreatedAt),
		valTime(l.UpdatedAt),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(s rowScanner) (domain.Listing, error) {
	var (
		l        domain.Listing
		lat, lng sql.NullFloat64
		hours    []byte
	)
	if err := s.Scan(
		&l.ID, &l.Name, &l.Neighborhood, &l.CuisineType, &l.Address, &l.Photograph,
		&lat, &lng, &hours, &l.IsFavorite, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return domain.Listing{}, err
	}
	if lat.Valid && lng.Valid {
		l.LatLng = &domain.LatLng{Lat: lat.Float64, Lng: lng.Float64}
	}
	if len(hours) > 0 {
		_ = json.Unmarshal(hours, &l.OperatingHours)
	}
	return l, nil
}

func (r *Repo) ListListings(ctx context.Context, q domain.ListingQuery) ([]domain.Listing, error) {
	var (
		where []string
		args  []any
	)
	if q.ID != nil {
		where = append(where, "id = ?")
		args = append(args, *q.ID)
	}
	if q.HasCategory() {
		where = append(where, "cuisine_type = ?")
		args = append(args, q.Category)
	}
	if q.HasArea() {
		where = append(where, "neighborhood = ?")
		args = append(args, q.Area)
	}
	stmt := selectListingsSQL
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY id"

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Repo) GetListing(ctx context.Context, id int64) (domain.Listing, error) {
	l, err := scanListing(r.db.QueryRowContext(ctx, selectListingsSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, err
}

func (r *Repo) SetFavorite(ctx context.Context, id int64, favorite bool) (domain.Listing, error) {
	// RowsAffected is 0 when the flag is unchanged, so existence is checked by reading back.
	if _, err := r.db.ExecContext(ctx, setFavoriteSQL, favorite, id); err != nil {
		return domain.Listing{}, err
	}
	return r.GetListing(ctx, id)
}

func scanReview(s rowScanner) (domain.Review, error) {
	var (
		rv  domain.Review
		key sql.NullString
	)
	if err := s.Scan(&rv.ID, &rv.RestaurantID, &rv.Name, &rv.Rating, &rv.Comments, &key, &rv.CreatedAt, &rv.UpdatedAt); err != nil {
		return domain.Review{}, err
	}
	rv.ClientKey = key.String
	return rv, nil
}

func (r *Repo) ListReviews(ctx context.Context, restaurantID int64) ([]domain.Review, error) {
	rows, err := r.db.QueryContext(ctx,
		selectReviewsSQL+" WHERE restaurant_id = ? ORDER BY created_at, id", restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (r *Repo) CreateReview(ctx context.Context, in domain.ReviewInput) (domain.Review, error) {
	now := time.Now().UTC()
	created, updated := in.CreatedAt, in.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}
	res, err := r.db.ExecContext(ctx, insertReviewSQL,
		in.RestaurantID,
		in.Name,
		in.Rating,
		in.Comments,
		valStr(in.ClientKey),
		created.UTC(),
		updated.UTC(),
	)
	if err != nil {
		return domain.Review{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Review{}, err
	}
	rv, err := scanReview(r.db.QueryRowContext(ctx, selectReviewsSQL+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Review{}, domain.ErrNotFound
	}
	return rv, err
}
