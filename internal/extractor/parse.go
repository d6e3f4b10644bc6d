package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/samims/pricewatch/internal/model"
)

const maxTitleRunes = 100

var (
	nonDigits   = regexp.MustCompile(`[^0-9]`)
	priceToken  = regexp.MustCompile(`[0-9][0-9.,\s\x{00a0}]*`)
	symbolCodes = map[string]string{
		"€":   "EUR",
		"EUR": "EUR",
		"$":   "USD",
		"US$": "USD",
		"USD": "USD",
		"£":   "GBP",
		"GBP": "GBP",
	}
)

// NormalizeTitle keeps the text before the first comma and caps the length.
func NormalizeTitle(raw string) string {
	title := strings.Join(strings.Fields(raw), " ")
	if i := strings.Index(title, ","); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:maxTitleRunes])) + "..."
	}
	return title
}

// ParseWholeFraction joins the integer and fraction parts of a split price.
func ParseWholeFraction(whole, fraction string) decimal.NullDecimal {
	w := nonDigits.ReplaceAllString(whole, "")
	if w == "" {
		return decimal.NullDecimal{}
	}
	f := nonDigits.ReplaceAllString(fraction, "")
	if f == "" {
		f = "00"
	}
	d, err := decimal.NewFromString(w + "." + f)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// ParsePrice reads a formatted amount such as "1.299,00 €" or "$1,299.00".
// The last separator followed by one or two digits is the decimal point.
func ParsePrice(text string) decimal.NullDecimal {
	token := strings.TrimSpace(priceToken.FindString(text))
	token = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' {
			return -1
		}
		return r
	}, token)
	token = strings.TrimRight(token, ".,")
	if token == "" {
		return decimal.NullDecimal{}
	}

	intPart, fracPart := token, ""
	if i := strings.LastIndexAny(token, ".,"); i >= 0 {
		if tail := token[i+1:]; len(tail) == 1 || len(tail) == 2 {
			intPart, fracPart = token[:i], tail
		}
	}
	intPart = nonDigits.ReplaceAllString(intPart, "")
	if intPart == "" {
		intPart = "0"
	}

	s := intPart
	if fracPart != "" {
		s += "." + fracPart
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// CurrencyFromSymbol maps a price symbol to an ISO code, or returns fallback.
func CurrencyFromSymbol(symbol, fallback string) string {
	if code, ok := symbolCodes[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return code
	}
	return fallback
}

// DetectAvailability classifies the visible page text.
func DetectAvailability(text string) model.Availability {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "non disponibile"),
		strings.Contains(lower, "temporarily out of stock"),
		strings.Contains(lower, "currently unavailable"):
		return model.AvailabilityUnavailable
	case strings.Contains(lower, "solo") && strings.Contains(lower, "rimast"),
		strings.Contains(lower, "only") && strings.Contains(lower, "left in stock"):
		return model.AvailabilityLimited
	default:
		return model.AvailabilityInStock
	}
}

// keepReference drops a reference price that is not above the current one.
func keepReference(current, reference decimal.NullDecimal) decimal.NullDecimal {
	if !current.Valid || !reference.Valid || !reference.Decimal.GreaterThan(current.Decimal) {
		return decimal.NullDecimal{}
	}
	return reference
}
