// internal/adapters/http_server/handlers.go
package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"reviews_app/internal/domain"
)

// Handlers serve the authoritative restaurant API.
type Handlers struct{ Repo domain.CatalogRepository }

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/restaurants", h.listRestaurants)
	s.mux.Get("/restaurants/", h.listRestaurants)
	s.mux.Get("/restaurants/{id}", h.getRestaurant)
	s.mux.Put("/restaurants/{id}", h.setFavorite)
	s.mux.Put("/restaurants/{id}/", h.setFavorite)
	s.mux.Get("/reviews", h.listReviews)
	s.mux.Get("/reviews/", h.listReviews)
	s.mux.Post("/reviews", h.createReview)
	s.mux.Post("/reviews/", h.createReview)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// writeJSON writes v, answering 304 when the client already has it.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	etag, body := calcETagAndBody(v)
	if status == http.StatusOK {
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.Header().Set("ETag", etag)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) listRestaurants(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := domain.ListingQuery{Category: qs.Get("cuisine_type"), Area: qs.Get("neighborhood")}
	if s := qs.Get("id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
			return
		}
		q.ID = &id
	}
	out, err := h.Repo.ListListings(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Msg("list restaurants")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *Handlers) getRestaurant(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	l, err := h.Repo.GetListing(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "restaurant not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("get restaurant")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (h *Handlers) setFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	fav, err := strconv.ParseBool(r.URL.Query().Get("is_favorite"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid flag", "is_favorite must be true or false")
		return
	}
	l, err := h.Repo.SetFavorite(r.Context(), id, fav)
	if errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "restaurant not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Int64("id", id).Msg("set favorite")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("restaurant_id"), 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "restaurant_id must be a number")
		return
	}
	out, err := h.Repo.ListReviews(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Int64("restaurant_id", id).Msg("list reviews")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeJSON(w, r, http.StatusOK, out)
}

// createReview is idempotent on the Idempotency-Key header.
func (h *Handlers) createReview(w http.ResponseWriter, r *http.Request) {
	var in domain.ReviewInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		in.ClientKey = key
	}
	if err := in.Validate(); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid review", err.Error())
		return
	}
	if _, err := h.Repo.GetListing(r.Context(), in.RestaurantID); errors.Is(err, domain.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "restaurant not found")
		return
	}
	rv, err := h.Repo.CreateReview(r.Context(), in)
	if err != nil {
		log.Error().Err(err).Int64("restaurant_id", in.RestaurantID).Msg("create review")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	writeJSON(w, r, http.StatusCreated, rv)
}
