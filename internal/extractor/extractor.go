package extractor

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/samims/pricewatch/internal/model"
)

// ErrUnavailable is the only error class Extract returns.
var ErrUnavailable = errors.New("product page unavailable")

// Snapshot is a best-effort view of a product page. Any field may be zero.
type Snapshot struct {
	Title          string
	CurrentPrice   decimal.NullDecimal
	ReferencePrice decimal.NullDecimal
	Currency       string
	Availability   model.Availability
}

// Usable reports whether the snapshot carries anything worth persisting.
func (s *Snapshot) Usable() bool {
	return s != nil && (s.Title != "" || s.CurrentPrice.Valid)
}

// Extractor fetches product snapshots. Implementations may hold a
// long-lived resource that Close releases.
type Extractor interface {
	Extract(ctx context.Context, url string) (*Snapshot, error)
	Close() error
}
