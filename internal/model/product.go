package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Availability string

const (
	AvailabilityInStock     Availability = "Disponibile"
	AvailabilityLimited     Availability = "Disponibilità limitata"
	AvailabilityUnavailable Availability = "Non disponibile"
)

// Product is one catalog entry, unique by canonical URL and by catalog id.
type Product struct {
	ID             int64               `json:"id"`
	CatalogID      string              `json:"catalog_id,omitempty"`
	URL            string              `json:"url"`
	Title          string              `json:"title"`
	CurrentPrice   decimal.NullDecimal `json:"current_price"`
	ReferencePrice decimal.NullDecimal `json:"reference_price"`
	Currency       string              `json:"currency"`
	Availability   Availability        `json:"availability"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// PriceObservation is an append-only price history record.
type PriceObservation struct {
	ID         int64           `json:"id"`
	ProductID  int64           `json:"product_id"`
	Price      decimal.Decimal `json:"price"`
	Currency   string          `json:"currency"`
	ObservedAt time.Time       `json:"observed_at"`
}

// MonitoredProduct is a product together with its active trackings, as
// visited by one poll cycle.
type MonitoredProduct struct {
	Product
	Trackings []Tracking
}
