package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	appErr "github.com/samims/pricewatch/internal/errors"
)

const maxRedirects = 10

var catalogIDPattern = regexp.MustCompile(`(?i)/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})(?:[/?#]|$)`)

type Config struct {
	Domains          []string
	ShortLinkDomains []string
	ReferenceDomain  string
	ResolveTimeout   time.Duration
}

// Identity is the canonical form of a product link. CatalogID is empty
// when no catalog id could be parsed.
type Identity struct {
	CatalogID string
	URL       string
}

type Normalizer struct {
	domains   []string
	short     []string
	reference string
	client    *http.Client
	logger    *slog.Logger
}

func NewNormalizer(cfg Config, logger *slog.Logger) *Normalizer {
	n := &Normalizer{
		domains:   lowerAll(cfg.Domains),
		short:     lowerAll(cfg.ShortLinkDomains),
		reference: strings.ToLower(cfg.ReferenceDomain),
		logger:    logger.With("layer", "identity", "component", "normalizer"),
	}

	timeout := cfg.ResolveTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	n.client = &http.Client{
		Timeout:       timeout,
		CheckRedirect: n.checkRedirect,
	}
	return n
}

// Validate checks rawURL against the recognized domains without touching
// the network.
func (n *Normalizer) Validate(rawURL string) error {
	_, err := n.parse(rawURL)
	return err
}

// Normalize returns the canonical identity of rawURL. Short links are
// resolved first; when resolution fails the original link is returned
// unnormalized so the caller can still try it directly.
func (n *Normalizer) Normalize(ctx context.Context, rawURL string) (Identity, error) {
	u, err := n.parse(rawURL)
	if err != nil {
		return Identity{}, err
	}

	if n.isShortLink(u.Hostname()) {
		resolved, err := n.resolve(ctx, u)
		if err != nil {
			n.logger.Warn("Short link resolution failed",
				slog.String("url", u.String()),
				slog.Any("error", err))
			return Identity{URL: u.String()}, nil
		}
		n.logger.Debug("Short link resolved",
			slog.String("from", u.String()),
			slog.String("to", resolved.String()))
		u = resolved
	}

	if id := ExtractCatalogID(u.Path); id != "" {
		return Identity{CatalogID: id, URL: n.CanonicalURL(id)}, nil
	}

	return Identity{URL: stripQuery(u)}, nil
}

// CanonicalURL builds the fixed-template URL for a catalog id.
func (n *Normalizer) CanonicalURL(catalogID string) string {
	return "https://" + n.reference + CatalogPath(catalogID)
}

// CatalogPath is the path fragment every canonical URL for id carries.
func CatalogPath(catalogID string) string {
	return "/dp/" + catalogID
}

// ExtractCatalogID returns the upper-cased catalog id found in path, or "".
func ExtractCatalogID(path string) string {
	m := catalogIDPattern.FindStringSubmatch(path)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

func (n *Normalizer) parse(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, fmt.Errorf("empty link: %w", appErr.ErrInvalidLink)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", rawURL, appErr.ErrInvalidLink)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q: %w", u.Scheme, appErr.ErrInvalidLink)
	}
	if !n.isRecognized(u.Hostname()) {
		return nil, fmt.Errorf("unrecognized domain %q: %w", u.Hostname(), appErr.ErrInvalidLink)
	}
	return u, nil
}

func (n *Normalizer) resolve(ctx context.Context, u *url.URL) (*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("follow redirects: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	// A stopped redirect leaves the destination in Location.
	final, err := resp.Location()
	if errors.Is(err, http.ErrNoLocation) {
		final = resp.Request.URL
	} else if err != nil {
		return nil, fmt.Errorf("read location: %w", err)
	}

	if !n.isRecognized(final.Hostname()) {
		return nil, fmt.Errorf("short link left recognized domains: %s", final.Hostname())
	}
	return final, nil
}

// checkRedirect stops following once a full catalog domain is reached.
func (n *Normalizer) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	host := req.URL.Hostname()
	switch {
	case !n.isRecognized(host):
		return fmt.Errorf("redirect to unrecognized domain %q", host)
	case !n.isShortLink(host):
		return http.ErrUseLastResponse
	}
	return nil
}

func (n *Normalizer) isRecognized(host string) bool {
	return matchesAny(host, n.domains)
}

func (n *Normalizer) isShortLink(host string) bool {
	return matchesAny(host, n.short)
}

func matchesAny(host string, domains []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func stripQuery(u *url.URL) string {
	clean := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}
	return clean.String()
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
