package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Subscriber struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Tracking binds a subscriber to a product. At most one row exists per pair.
type Tracking struct {
	ID           int64     `json:"id"`
	SubscriberID string    `json:"subscriber_id"`
	ProductID    int64     `json:"product_id"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TrackedProduct is a row of a subscriber's tracking list.
type TrackedProduct struct {
	ProductID    int64               `json:"product_id"`
	Title        string              `json:"title"`
	URL          string              `json:"url"`
	CurrentPrice decimal.NullDecimal `json:"current_price"`
	Currency     string              `json:"currency"`
	Availability Availability        `json:"availability"`
	TrackedSince time.Time           `json:"tracked_since"`
}

type Stats struct {
	TotalProducts   int        `json:"total_products"`
	Subscribers     int        `json:"subscribers"`
	ActiveTrackings int        `json:"active_trackings"`
	LastObservation *time.Time `json:"last_observation,omitempty"`
}
