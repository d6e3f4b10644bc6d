package notifier

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const ParseModeHTML = "HTML"

// Notifier delivers a rendered message to one subscriber.
type Notifier interface {
	Notify(ctx context.Context, subscriberID, message string) error
	Close() error
}

// PriceDrop carries what a price drop message shows.
type PriceDrop struct {
	Title     string
	URL       string
	OldPrice  decimal.Decimal
	NewPrice  decimal.Decimal
	Currency  string
	CheckedAt time.Time
	Location  *time.Location
}

// Savings returns the absolute drop and the rounded percentage.
func (d PriceDrop) Savings() (decimal.Decimal, int64) {
	savings := d.OldPrice.Sub(d.NewPrice)
	if !d.OldPrice.IsPositive() {
		return savings, 0
	}
	pct := savings.Div(d.OldPrice).Mul(decimal.NewFromInt(100)).Round(0)
	return savings, pct.IntPart()
}

// RenderPriceDrop renders the HTML body of a price drop notification.
func RenderPriceDrop(d PriceDrop) string {
	savings, pct := d.Savings()
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}

	var b strings.Builder
	b.WriteString("🎯 <b>Prezzo in calo!</b>\n\n")
	fmt.Fprintf(&b, "📦 <b>%s</b>\n\n", html.EscapeString(d.Title))
	fmt.Fprintf(&b, "💰 <b>Nuovo prezzo:</b> %s %s\n", d.NewPrice.StringFixed(2), d.Currency)
	fmt.Fprintf(&b, "💸 <b>Prezzo precedente:</b> <s>%s %s</s>\n\n", d.OldPrice.StringFixed(2), d.Currency)
	fmt.Fprintf(&b, "📉 <b>Risparmio:</b> %s %s (-%d%%)\n\n", savings.StringFixed(2), d.Currency, pct)
	fmt.Fprintf(&b, "🛒 <a href=\"%s\">Vai al prodotto</a>", html.EscapeString(d.URL))
	if !d.CheckedAt.IsZero() {
		fmt.Fprintf(&b, "\n\n⏰ Controllato il %s", d.CheckedAt.In(loc).Format("02/01/2006, 15:04:05"))
	}
	return b.String()
}
