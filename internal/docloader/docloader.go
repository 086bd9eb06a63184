// Package docloader fetches remote JSON-LD documents (actors, activities,
// objects, collections) over HTTP, with KV-backed caching, concurrent
// fetch collapsing, and the SSRF guard spec.md §4.E requires. The safe
// HTTP client — redirect cap, private-address rejection on every hop — is
// grounded on the teacher's federation.DiscoverInstance and
// ValidateFederationDomain; caching and in-flight collapsing are new, built
// the way the teacher composes a narrow contract (kvstore.Store) with a
// library the rest of the example pack already depends on
// (golang.org/x/sync/singleflight).
package docloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fedcore/fedcore/internal/kvstore"
)

// Document is a successfully loaded remote document: its final
// (post-redirect) URL, content type, and raw bytes.
type Document struct {
	URL         string
	ContentType string
	Body        []byte
}

// Options configures a Loader.
type Options struct {
	// UserAgent is sent on every request.
	UserAgent string
	// Accept is the content negotiation header sent on every request.
	Accept string
	// CacheTTL controls how long a successfully loaded document is
	// cached in the KV store. Zero disables caching.
	CacheTTL time.Duration
	// MaxRedirects bounds redirect following; the teacher's
	// DiscoverInstance uses 5.
	MaxRedirects int
	// AllowPrivateAddresses disables the SSRF guard — intended only for
	// local development and integration tests against containerized
	// peers.
	AllowPrivateAddresses bool
	// Timeout bounds each individual request.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = "fedcore/0.1 (+federation)"
	}
	if o.Accept == "" {
		o.Accept = `application/ld+json; profile="https://www.w3.org/ns/activitystreams", application/activity+json`
	}
	if o.MaxRedirects == 0 {
		o.MaxRedirects = 5
	}
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

// Loader fetches and caches remote documents.
type Loader struct {
	opts   Options
	cache  kvstore.Store
	client *http.Client
	group  singleflight.Group
	logger *slog.Logger
}

// New returns a Loader that caches through cache and logs via logger.
func New(cache kvstore.Store, logger *slog.Logger, opts Options) *Loader {
	opts = opts.withDefaults()
	l := &Loader{opts: opts, cache: cache, logger: logger}
	l.client = &http.Client{
		Timeout: opts.Timeout,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= opts.MaxRedirects {
				return fmt.Errorf("docloader: stopped after %d redirects", opts.MaxRedirects)
			}
			if r.URL.Scheme != "https" {
				return fmt.Errorf("docloader: redirects must use https")
			}
			if !opts.AllowPrivateAddresses {
				if err := ValidateHost(r.URL.Hostname()); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return l
}

// Load fetches target, serving from cache when available and collapsing
// concurrent fetches of the same URL into a single request.
func (l *Loader) Load(ctx context.Context, target string) (*Document, error) {
	normalized, err := normalizeURL(target)
	if err != nil {
		return nil, err
	}

	if l.cache != nil && l.opts.CacheTTL > 0 {
		if cached, ok, err := l.cache.Get(ctx, cacheKey(normalized)); err == nil && ok {
			return decodeCached(cached)
		}
	}

	result, err, _ := l.group.Do(normalized, func() (interface{}, error) {
		return l.fetch(ctx, normalized)
	})
	if err != nil {
		return nil, err
	}
	doc := result.(*Document)

	if l.cache != nil && l.opts.CacheTTL > 0 {
		if encoded, err := encodeCached(doc); err == nil {
			if err := l.cache.Set(ctx, cacheKey(normalized), encoded, l.opts.CacheTTL); err != nil {
				l.logger.Warn("docloader: caching document failed", slog.String("url", normalized), slog.String("error", err.Error()))
			}
		}
	}
	return doc, nil
}

func (l *Loader) fetch(ctx context.Context, target string) (*Document, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("docloader: parsing url %q: %w", target, err)
	}
	if !l.opts.AllowPrivateAddresses {
		if err := ValidateHost(parsed.Hostname()); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("docloader: creating request for %q: %w", target, err)
	}
	req.Header.Set("Accept", l.opts.Accept)
	req.Header.Set("User-Agent", l.opts.UserAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docloader: fetching %q: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docloader: %q returned status %d", target, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("docloader: reading body of %q: %w", target, err)
	}

	return &Document{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Invalidate evicts target's cached entry, so the next Load refetches it
// instead of serving stale content. Called when signature verification
// against a previously cached key fails, in case the key was rotated
// (spec.md §3 Actor: "refreshed on signature-verification failure").
func (l *Loader) Invalidate(ctx context.Context, target string) error {
	normalized, err := normalizeURL(target)
	if err != nil {
		return err
	}
	if l.cache == nil {
		return nil
	}
	return l.cache.Delete(ctx, cacheKey(normalized))
}

// ValidateHost checks that host is a resolvable public hostname, rejecting
// the internal-domain suffixes and private/loopback/link-local address
// ranges the teacher's ValidateFederationDomain blocks — the SSRF guard
// spec.md §4.E requires before every outbound fetch and redirect hop.
func ValidateHost(host string) error {
	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".local") ||
		strings.HasSuffix(lower, ".internal") || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("docloader: internal host %q is not allowed", host)
	}

	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("docloader: host %q does not resolve: %w", host, err)
	}
	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("docloader: host %q resolves to a private or loopback address", host)
		}
	}
	return nil
}

func normalizeURL(target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("docloader: parsing url %q: %w", target, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("docloader: %q is not an absolute URL", target)
	}
	return parsed.String(), nil
}

func cacheKey(url string) string {
	return "remote-document/" + url
}
