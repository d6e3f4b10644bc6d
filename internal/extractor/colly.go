package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/samims/pricewatch/internal/metrics"
)

var errClosed = errors.New("extractor closed")

type Selectors struct {
	Title          string
	PriceWhole     string
	PriceFraction  string
	PriceSymbol    string
	ReferencePrice string
	Availability   string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Title:          "#productTitle",
		PriceWhole:     ".a-price-whole",
		PriceFraction:  ".a-price-fraction",
		PriceSymbol:    ".a-price-symbol",
		ReferencePrice: ".a-price.a-text-price .a-offscreen",
		Availability:   "#availability",
	}
}

type Config struct {
	RequestTimeout  time.Duration
	UserAgent       string
	AcceptLanguage  string
	DefaultCurrency string
	Selectors       Selectors
}

// CollyExtractor scrapes product pages. The base collector and its HTTP
// transport are created on first use and shared by every call.
type CollyExtractor struct {
	cfg    Config
	logger *slog.Logger

	once      sync.Once
	base      *colly.Collector
	transport *http.Transport

	mu     sync.RWMutex
	closed bool
}

func NewCollyExtractor(cfg Config, logger *slog.Logger) *CollyExtractor {
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "EUR"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &CollyExtractor{
		cfg:    cfg,
		logger: logger.With("layer", "extractor", "component", "colly"),
	}
}

func (e *CollyExtractor) Extract(ctx context.Context, url string) (*Snapshot, error) {
	start := time.Now()
	snap, err := e.extract(ctx, url)

	result := "ok"
	switch {
	case err != nil:
		result = "unavailable"
		e.logger.Warn("Extraction failed", slog.String("url", url), slog.Any("error", err))
	case !snap.CurrentPrice.Valid:
		result = "no_price"
	}
	metrics.ExtractDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return snap, err
}

func (e *CollyExtractor) extract(ctx context.Context, url string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, errClosed)
	}

	c := e.collector().Clone()
	c.Context = ctx

	var (
		snap  *Snapshot
		found bool
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		if e.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", e.cfg.AcceptLanguage)
		}
	})
	c.OnHTML("html", func(h *colly.HTMLElement) {
		if found {
			return
		}
		found = true
		snap = e.read(h)
	})

	if err := c.Visit(url); err != nil {
		return nil, fmt.Errorf("%w: visit %s: %w", ErrUnavailable, url, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: no html document at %s", ErrUnavailable, url)
	}
	return snap, nil
}

func (e *CollyExtractor) read(h *colly.HTMLElement) *Snapshot {
	sel := e.cfg.Selectors
	doc := h.DOM

	current := ParseWholeFraction(
		doc.Find(sel.PriceWhole).First().Text(),
		doc.Find(sel.PriceFraction).First().Text(),
	)
	reference := ParsePrice(doc.Find(sel.ReferencePrice).First().Text())

	availabilityText := doc.Find(sel.Availability).First().Text()
	if strings.TrimSpace(availabilityText) == "" {
		availabilityText = doc.Find("body").Text()
	}

	return &Snapshot{
		Title:          NormalizeTitle(doc.Find(sel.Title).First().Text()),
		CurrentPrice:   current,
		ReferencePrice: keepReference(current, reference),
		Currency:       CurrencyFromSymbol(doc.Find(sel.PriceSymbol).First().Text(), e.cfg.DefaultCurrency),
		Availability:   DetectAvailability(availabilityText),
	}
}

func (e *CollyExtractor) collector() *colly.Collector {
	e.once.Do(func() {
		e.logger.Info("Creating scraping collector")
		e.transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          20,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: time.Second,
		}

		opts := []colly.CollectorOption{colly.AllowURLRevisit()}
		if e.cfg.UserAgent != "" {
			opts = append(opts, colly.UserAgent(e.cfg.UserAgent))
		}
		c := colly.NewCollector(opts...)
		c.WithTransport(e.transport)
		c.SetRequestTimeout(e.cfg.RequestTimeout)
		e.base = c
	})
	return e.base
}

// Close releases pooled connections. Extract fails after Close.
func (e *CollyExtractor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.transport != nil {
		e.transport.CloseIdleConnections()
		e.logger.Info("Scraping collector released")
	}
	return nil
}
