package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

var (
	// ErrTooManyRedirects is returned when a URL redirects more than
	// MaxRedirects times.
	ErrTooManyRedirects = errors.New("too many redirects")

	// ErrUnreachable is returned when the existence check fails.
	ErrUnreachable = errors.New("stream unreachable")
)

// DefaultMaxRedirects is the number of redirect hops followed.
const DefaultMaxRedirects = 6

// manifestTypes are the Content-Types that identify an m3u8 playlist.
var manifestTypes = map[string]bool{
	"application/x-mpegurl":         true,
	"application/vnd.apple.mpegurl": true,
	"audio/mpegurl":                 true,
	"audio/x-mpegurl":               true,
}

// Fetcher is the subset of the transport client the resolver needs.
type Fetcher interface {
	ProbeHead(ctx context.Context, url string, headers http.Header, timeout time.Duration) transport.HeadResult
	FetchText(ctx context.Context, url string, headers http.Header, limit int64, timeout time.Duration) (*transport.Page, error)
}

// Config holds resolver limits.
type Config struct {
	HeadTimeout   time.Duration
	FetchTimeout  time.Duration
	MaxRedirects  int
	ManifestLimit int64 // maximum playlist body size in bytes
}

// DefaultConfig returns the resolver defaults.
func DefaultConfig() Config {
	return Config{
		HeadTimeout:   3 * time.Second,
		FetchTimeout:  5 * time.Second,
		MaxRedirects:  DefaultMaxRedirects,
		ManifestLimit: 4 * 1024 * 1024,
	}
}

// ResolvedStream describes what a candidate URL actually serves.
type ResolvedStream struct {
	// URL is the final URL after redirects.
	URL string

	// SegmentURLs are absolute segment URIs, empty for progressive streams.
	SegmentURLs []string

	Resolution string
	Bandwidth  int64
	IsManifest bool

	// Fallback is set when the URL looked like a manifest but could not
	// be used as one, and is being probed as a progressive stream instead.
	Fallback error
}

// Resolver turns candidate URLs into ResolvedStreams.
type Resolver struct {
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(fetcher Fetcher, cfg Config, logger *slog.Logger) *Resolver {
	if cfg.MaxRedirects < 0 {
		cfg.MaxRedirects = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{fetcher: fetcher, cfg: cfg, logger: logger}
}

// Resolve follows redirects from rawURL and, when the target is a
// playlist, picks the variant and segment list to sample.
//
// The only errors returned are ErrTooManyRedirects and ErrUnreachable;
// playlist problems degrade to a progressive ResolvedStream.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, headers http.Header) (ResolvedStream, error) {
	head, finalURL, err := r.follow(ctx, rawURL, headers)
	if err != nil {
		return ResolvedStream{}, err
	}

	rs := ResolvedStream{URL: finalURL, Resolution: model.ResolutionUnknown}
	if !IsManifest(head.ContentType(), finalURL) {
		return rs, nil
	}

	pl, plURL, err := r.fetchPlaylist(ctx, finalURL, headers)
	if err != nil {
		return r.fallback(rs, err), nil
	}

	if pl.IsMaster() {
		v, _ := pl.BestVariant()
		rs.Bandwidth = v.Bandwidth
		rs.Resolution = VariantResolution(v)

		media, mediaURL, err := r.fetchPlaylist(ctx, v.URI, headers)
		if err != nil {
			return r.fallback(rs, fmt.Errorf("variant %s: %w", v.URI, err)), nil
		}
		if len(media.Segments) == 0 {
			return r.fallback(rs, fmt.Errorf("variant %s: %w", mediaURL, ErrEmptyPlaylist)), nil
		}
		rs.SegmentURLs = media.Segments
		rs.IsManifest = true
		return rs, nil
	}

	if pl.Resolution != "" {
		rs.Resolution = pl.Resolution
	}
	rs.SegmentURLs = pl.Segments
	rs.IsManifest = true
	r.logger.Debug("manifest_resolved",
		"url", plURL,
		"segments", len(pl.Segments),
		"resolution", rs.Resolution,
	)
	return rs, nil
}

func (r *Resolver) fallback(rs ResolvedStream, err error) ResolvedStream {
	r.logger.Debug("manifest_fallback", "url", rs.URL, "error", err)
	rs.SegmentURLs = nil
	rs.IsManifest = false
	rs.Fallback = err
	return rs
}

// follow issues existence checks along the redirect chain.
func (r *Resolver) follow(ctx context.Context, rawURL string, headers http.Header) (transport.HeadResult, string, error) {
	current := rawURL
	for hops := 0; ; hops++ {
		head := r.fetcher.ProbeHead(ctx, current, headers, r.cfg.HeadTimeout)

		loc, ok := head.Redirect()
		if !ok {
			if !head.Reachable() {
				if head.Err != nil {
					return head, current, fmt.Errorf("%w: %w", ErrUnreachable, head.Err)
				}
				return head, current, fmt.Errorf("%w: status %d", ErrUnreachable, head.Status)
			}
			return head, current, nil
		}

		if hops >= r.cfg.MaxRedirects {
			return head, current, fmt.Errorf("%w: %s after %d hops", ErrTooManyRedirects, rawURL, hops)
		}
		next, err := resolveLocation(current, loc)
		if err != nil {
			return head, current, fmt.Errorf("%w: bad location %q: %w", ErrUnreachable, loc, err)
		}
		current = next
	}
}

// fetchPlaylist GETs and parses a playlist, following its own redirects
// under the same hop bound.
func (r *Resolver) fetchPlaylist(ctx context.Context, rawURL string, headers http.Header) (*Playlist, string, error) {
	current := rawURL
	for hops := 0; ; hops++ {
		page, err := r.fetcher.FetchText(ctx, current, headers, r.cfg.ManifestLimit, r.cfg.FetchTimeout)
		if err != nil {
			return nil, current, err
		}

		if page.Status >= 300 && page.Status <= 399 {
			loc := page.Header.Get("Location")
			if loc == "" {
				return nil, current, fmt.Errorf("redirect %d without location", page.Status)
			}
			if hops >= r.cfg.MaxRedirects {
				return nil, current, ErrTooManyRedirects
			}
			if current, err = resolveLocation(current, loc); err != nil {
				return nil, current, err
			}
			continue
		}
		if page.Status != http.StatusOK {
			return nil, current, fmt.Errorf("%w: %d", transport.ErrStatus, page.Status)
		}

		base, err := url.Parse(current)
		if err != nil {
			return nil, current, err
		}
		pl, err := Parse(page.Body, base)
		if err != nil {
			return nil, current, err
		}
		return pl, current, nil
	}
}

// IsManifest reports whether a response looks like an m3u8 playlist from
// its Content-Type or URL path.
func IsManifest(contentType, rawURL string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if manifestTypes[ct] {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

func resolveLocation(current, loc string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	return resolveRef(base, loc)
}
