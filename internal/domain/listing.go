package domain

import "time"

// Listing is a restaurant record as the client stores and displays it.
type Listing struct {
	ID             int64             `json:"id"`
	Name           string            `json:"name"`
	Neighborhood   string            `json:"neighborhood"`
	CuisineType    string            `json:"cuisine_type"`
	Address        string            `json:"address,omitempty"`
	Photograph     string            `json:"photograph,omitempty"`
	LatLng         *LatLng           `json:"latlng,omitempty"`
	OperatingHours map[string]string `json:"operating_hours,omitempty"`
	IsFavorite     bool              `json:"is_favorite"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AllFilter matches every category or area.
const AllFilter = "all"

// ListingQuery is the filter set a listing read is encoded with.
// Empty strings (or AllFilter) mean "no constraint".
type ListingQuery struct {
	ID       *int64
	Category string
	Area     string
}

func (q ListingQuery) HasCategory() bool { return q.Category != "" && q.Category != AllFilter }
func (q ListingQuery) HasArea() bool     { return q.Area != "" && q.Area != AllFilter }

// Match reports whether l satisfies every constraint in q.
func (q ListingQuery) Match(l Listing) bool {
	if q.ID != nil && l.ID != *q.ID {
		return false
	}
	if q.HasCategory() && l.CuisineType != q.Category {
		return false
	}
	if q.HasArea() && l.Neighborhood != q.Area {
		return false
	}
	return true
}
