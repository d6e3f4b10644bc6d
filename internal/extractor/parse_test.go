package extractor

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/samims/pricewatch/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "italian format", input: "1.299,00 €", want: "1299"},
		{name: "us format", input: "$1,299.99", want: "1299.99"},
		{name: "plain decimal comma", input: "49,90€", want: "49.9"},
		{name: "nbsp before symbol", input: "19,99 €", want: "19.99"},
		{name: "thousands only", input: "2.499 €", want: "2499"},
		{name: "single decimal digit", input: "12,5", want: "12.5"},
		{name: "integer", input: "£15", want: "15"},
		{name: "no digits", input: "Prezzo non disponibile", want: ""},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.input)
			if tt.want == "" {
				assert.False(t, got.Valid)
				return
			}
			assert.True(t, got.Valid)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got.Decimal), "got %s", got.Decimal)
		})
	}
}

func TestParseWholeFraction(t *testing.T) {
	got := ParseWholeFraction("1.299,", "00")
	assert.True(t, got.Valid)
	assert.Equal(t, "1299", got.Decimal.String())

	got = ParseWholeFraction("85", "")
	assert.True(t, got.Valid)
	assert.Equal(t, "85", got.Decimal.String())

	got = ParseWholeFraction(" ", "99")
	assert.False(t, got.Valid)
}

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "Echo Dot (5ª generazione)", NormalizeTitle("  Echo Dot (5ª generazione),   Altoparlante Bluetooth "))
	assert.Equal(t, "", NormalizeTitle("   "))

	long := strings.Repeat("a", 150)
	got := NormalizeTitle(long)
	assert.Equal(t, strings.Repeat("a", 100)+"...", got)
}

func TestCurrencyFromSymbol(t *testing.T) {
	assert.Equal(t, "EUR", CurrencyFromSymbol("€", "USD"))
	assert.Equal(t, "USD", CurrencyFromSymbol(" $ ", "EUR"))
	assert.Equal(t, "GBP", CurrencyFromSymbol("£", "EUR"))
	assert.Equal(t, "EUR", CurrencyFromSymbol("", "EUR"))
	assert.Equal(t, "EUR", CurrencyFromSymbol("kr", "EUR"))
}

func TestDetectAvailability(t *testing.T) {
	tests := []struct {
		text string
		want model.Availability
	}{
		{text: "Disponibilità immediata.", want: model.AvailabilityInStock},
		{text: "Attualmente non disponibile.", want: model.AvailabilityUnavailable},
		{text: "Temporarily out of stock.", want: model.AvailabilityUnavailable},
		{text: "Solo 3 rimasti in magazzino", want: model.AvailabilityLimited},
		{text: "Only 2 left in stock - order soon.", want: model.AvailabilityLimited},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectAvailability(tt.text), tt.text)
	}
}

func TestKeepReference(t *testing.T) {
	current := decimal.NewNullDecimal(decimal.RequireFromString("85"))

	higher := decimal.NewNullDecimal(decimal.RequireFromString("100"))
	assert.Equal(t, higher, keepReference(current, higher))

	equal := decimal.NewNullDecimal(decimal.RequireFromString("85"))
	assert.False(t, keepReference(current, equal).Valid)

	assert.False(t, keepReference(decimal.NullDecimal{}, higher).Valid)
}
