package domain

import (
	"fmt"
	"strings"
	"time"
)

// MinCommentLength is the shortest comment the review form accepts.
const MinCommentLength = 20

// ReviewInput is a review as the user submitted it, before the server
// has assigned an id.
type ReviewInput struct {
	RestaurantID int64     `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       int       `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ClientKey    string    `json:"client_key,omitempty"`
}

// Validate applies the review form rules.
func (in ReviewInput) Validate() error {
	if in.RestaurantID <= 0 {
		return fmt.Errorf("%w: restaurant id is required", ErrInvalidReview)
	}
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidReview)
	}
	if in.Rating < 1 || in.Rating > 5 {
		return fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidReview)
	}
	if len([]rune(strings.TrimSpace(in.Comments))) < MinCommentLength {
		return fmt.Errorf("%w: comments must be at least %d characters", ErrInvalidReview, MinCommentLength)
	}
	return nil
}

// Review is a server-confirmed review. Pending is only set on records
// merged in from the outbox for display.
type Review struct {
	ID           int64     `json:"id"`
	RestaurantID int64     `json:"restaurant_id"`
	Name         string    `json:"name"`
	Rating       int       `json:"rating"`
	Comments     string    `json:"comments"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	ClientKey    string    `json:"client_key,omitempty"`
	Pending      bool      `json:"pending,omitempty"`
}

// PendingReview is an outbox row. ID is assigned locally and never sent.
type PendingReview struct {
	ID int64 `json:"id,omitempty"`
	ReviewInput
}

// AsReview renders a pending row for display next to confirmed reviews.
func (p PendingReview) AsReview() Review {
	return Review{
		RestaurantID: p.RestaurantID,
		Name:         p.Name,
		Rating:       p.Rating,
		Comments:     p.Comments,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		ClientKey:    p.ClientKey,
		Pending:      true,
	}
}
