package app

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"reviews_app/internal/domain"
)

/********** alias registries (single source of truth) **********/

var listingAliases = map[string][]string{
	"name":         {"name"},
	"neighborhood": {"neighborhood", "area"},
	"cuisine":      {"cuisine_type", "cuisine", "category"},
	"address":      {"address"},
	"photograph":   {"photograph", "photo"},
	"created":      {"createdAt", "created_at"},
	"updated":      {"updatedAt", "updated_at"},
}

var reviewAliases = map[string][]string{
	"listing":  {"restaurant_id", "restaurantId"},
	"name":     {"name", "author"},
	"rating":   {"rating"},
	"comments": {"comments", "comment", "text"},
	"created":  {"createdAt", "created_at"},
	"updated":  {"updatedAt", "updated_at"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// firstStr returns the first non-empty string among the alias paths.
func firstStr(m map[string]any, paths ...string) string {
	for _, p := range paths {
		if s, ok := lookupAny(m, p).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// getFloatFlexible: number from several paths (float64/int/string like "8,0").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// firstInt64Flexible: int64 from several paths (float64/int/string).
func firstInt64Flexible(m map[string]any, paths ...string) int64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// boolFlexible accepts true/false and the strings "true"/"false", which
// the API returns after a favorite PUT.
func boolFlexible(m map[string]any, path string) bool {
	switch v := lookupAny(m, path).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

// timeFlexible accepts epoch milliseconds (number or numeric string) and
// RFC 3339 strings.
func timeFlexible(m map[string]any, paths ...string) time.Time {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			return time.UnixMilli(int64(v)).UTC()
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				return time.UnixMilli(ms).UTC()
			}
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

/********** listing mapper **********/

func mapListing(p map[string]any) domain.Listing {
	l := domain.Listing{
		ID:           firstInt64Flexible(p, "id"),
		Name:         firstStr(p, listingAliases["name"]...),
		Neighborhood: firstStr(p, listingAliases["neighborhood"]...),
		CuisineType:  firstStr(p, listingAliases["cuisine"]...),
		Address:      firstStr(p, listingAliases["address"]...),
		Photograph:   firstStr(p, listingAliases["photograph"]...),
		IsFavorite:   boolFlexible(p, "is_favorite"),
		CreatedAt:    timeFlexible(p, listingAliases["created"]...),
		UpdatedAt:    timeFlexible(p, listingAliases["updated"]...),
	}
	// photograph is sometimes numeric ("photograph": 1)
	if l.Photograph == "" {
		if n := firstInt64Flexible(p, listingAliases["photograph"]...); n != 0 {
			l.Photograph = strconv.FormatInt(n, 10)
		}
	}
	lat := getFloatFlexible(p, "latlng.lat", "lat", "latitude")
	lng := getFloatFlexible(p, "latlng.lng", "lng", "longitude")
	if lat != nil && lng != nil {
		l.LatLng = &domain.LatLng{Lat: *lat, Lng: *lng}
	}
	if hours, ok := lookupAny(p, "operating_hours").(map[string]any); ok {
		l.OperatingHours = make(map[string]string, len(hours))
		for day, v := range hours {
			if s, ok := v.(string); ok {
				l.OperatingHours[day] = s
			}
		}
	}
	return l
}

// mapListings drops records without an id and any that do not satisfy q.
func mapListings(in []map[string]any, q domain.ListingQuery) []domain.Listing {
	out := make([]domain.Listing, 0, len(in))
	for _, p := range in {
		l := mapListing(p)
		if l.ID == 0 || !q.Match(l) {
			continue
		}
		out = append(out, l)
	}
	return out
}

/********** reviews mapper **********/

func mapReview(r map[string]any) domain.Review {
	rv := domain.Review{
		ID:           firstInt64Flexible(r, "id"),
		RestaurantID: firstInt64Flexible(r, reviewAliases["listing"]...),
		Name:         firstStr(r, reviewAliases["name"]...),
		Rating:       int(firstInt64Flexible(r, reviewAliases["rating"]...)),
		Comments:     firstStr(r, reviewAliases["comments"]...),
		CreatedAt:    timeFlexible(r, reviewAliases["created"]...),
		UpdatedAt:    timeFlexible(r, reviewAliases["updated"]...),
		ClientKey:    firstStr(r, "client_key"),
	}
	if rv.Rating == 0 {
		if f := getFloatFlexible(r, reviewAliases["rating"]...); f != nil {
			rv.Rating = int(*f)
		}
	}
	return rv
}

func mapReviews(in []map[string]any) []domain.Review {
	out := make([]domain.Review, 0, len(in))
	for _, r := range in {
		if rv := mapReview(r); rv.ID != 0 {
			out = append(out, rv)
		}
	}
	return out
}

/********** projections **********/

// distinct keeps the first occurrence of each non-empty value, in order.
func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func categoriesOf(ls []domain.Listing) []string {
	vals := make([]string, len(ls))
	for i, l := range ls {
		vals[i] = l.CuisineType
	}
	return distinct(vals)
}

func areasOf(ls []domain.Listing) []string {
	vals := make([]string, len(ls))
	for i, l := range ls {
		vals[i] = l.Neighborhood
	}
	return distinct(vals)
}

// mergeReviews combines confirmed and pending reviews, newest first.
// Confirmed records are deduplicated by server id and by client key, and a
// pending row whose client key is already confirmed is dropped.
func mergeReviews(confirmed []domain.Review, pending []domain.PendingReview) []domain.Review {
	out := make([]domain.Review, 0, len(confirmed)+len(pending))
	ids := make(map[int64]struct{}, len(confirmed))
	keys := make(map[string]struct{}, len(confirmed))
	for _, r := range confirmed {
		if _, dup := ids[r.ID]; dup {
			continue
		}
		if r.ClientKey != "" {
			if _, dup := keys[r.ClientKey]; dup {
				continue
			}
			keys[r.ClientKey] = struct{}{}
		}
		ids[r.ID] = struct{}{}
		out = append(out, r)
	}
	for _, p := range pending {
		if p.ClientKey != "" {
			if _, done := keys[p.ClientKey]; done {
				continue
			}
		}
		out = append(out, p.AsReview())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
