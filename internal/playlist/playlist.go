// Package playlist reads candidate channel lists and writes the ranked
// output files.
//
// Two input formats are accepted:
//
//	TVBox text:  "CCTV1,http://host/live.m3u8" one per line, with
//	             "Group,#genre#" section headers
//	M3U:         "#EXTM3U" header, "#EXTINF:-1 attrs,Name" then the URL
package playlist

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

const (
	// MaxSourceBytes bounds a downloaded source list.
	MaxSourceBytes = 16 * 1024 * 1024

	// SourceTimeout bounds each request for a remote source list.
	SourceTimeout = 30 * time.Second

	// maxSourceRedirects bounds redirects followed for a remote source.
	maxSourceRedirects = 5

	genreMarker = "#genre#"
)

// Fetcher fetches text bodies without following redirects.
type Fetcher interface {
	FetchText(ctx context.Context, url string, headers http.Header, limit int64, timeout time.Duration) (*transport.Page, error)
}

// Parse detects the format of text and returns its candidates.
func Parse(text string) []model.Candidate {
	trimmed := strings.TrimLeft(text, "\uFEFF \t\r\n")
	if strings.HasPrefix(trimmed, "#EXTM3U") {
		return ParseM3U(trimmed)
	}
	return ParseTVBox(trimmed)
}

// ParseTVBox parses "name,url" lines. Blank lines, genre headers, lines
// without a comma and non-http(s) URLs are skipped. Duplicate URLs keep
// their first occurrence.
func ParseTVBox(text string) []model.Candidate {
	var out []model.Candidate
	seen := make(map[string]struct{})

	scanner := newScanner(text)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.Contains(line, genreMarker) {
			continue
		}
		name, rawURL, ok := strings.Cut(line, ",")
		if !ok {
			continue
		}
		out = appendCandidate(out, seen, strings.TrimSpace(name), strings.TrimSpace(rawURL))
	}
	return out
}

// ParseM3U parses an extended M3U list. The channel name is the text
// after the last comma outside quoted attributes of the #EXTINF line; a
// URL with no preceding #EXTINF is named after itself.
func ParseM3U(text string) []model.Candidate {
	var out []model.Candidate
	seen := make(map[string]struct{})
	pending := ""

	scanner := newScanner(text)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXTINF:"):
			pending = extinfName(line)
		case strings.HasPrefix(line, "#"):
			// #EXTM3U, #EXTGRP, #EXTVLCOPT and friends carry nothing we use.
		default:
			name := pending
			if name == "" {
				name = line
			}
			out = appendCandidate(out, seen, name, line)
			pending = ""
		}
	}
	return out
}

func extinfName(line string) string {
	inQuote := false
	comma := -1
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				comma = i
			}
		}
	}
	if comma < 0 {
		return ""
	}
	return strings.TrimSpace(line[comma+1:])
}

func appendCandidate(out []model.Candidate, seen map[string]struct{}, name, rawURL string) []model.Candidate {
	if !isHTTP(rawURL) {
		return out
	}
	if _, dup := seen[rawURL]; dup {
		return out
	}
	seen[rawURL] = struct{}{}
	return append(out, model.Candidate{Name: name, URL: rawURL})
}

func isHTTP(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func newScanner(text string) *bufio.Scanner {
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// Load reads source, which is an http(s) URL or a local file path, and
// parses it. A source that yields no candidates is an error.
func Load(ctx context.Context, source string, fetcher Fetcher, headers http.Header) ([]model.Candidate, error) {
	var (
		body []byte
		err  error
	)
	if isHTTP(source) {
		body, err = fetch(ctx, source, fetcher, headers)
	} else {
		body, err = os.ReadFile(source)
	}
	if err != nil {
		return nil, fmt.Errorf("load source %s: %w", source, err)
	}

	candidates := Parse(string(body))
	if len(candidates) == 0 {
		return nil, fmt.Errorf("load source %s: no usable channels", source)
	}
	return candidates, nil
}

func fetch(ctx context.Context, source string, fetcher Fetcher, headers http.Header) ([]byte, error) {
	current := source
	for hop := 0; hop <= maxSourceRedirects; hop++ {
		page, err := fetcher.FetchText(ctx, current, headers, MaxSourceBytes, SourceTimeout)
		if err != nil {
			return nil, err
		}
		switch {
		case page.Status == http.StatusOK:
			return page.Body, nil
		case page.Status >= 300 && page.Status < 400 && page.Header.Get("Location") != "":
			next, err := resolve(current, page.Header.Get("Location"))
			if err != nil {
				return nil, err
			}
			current = next
		default:
			return nil, fmt.Errorf("%w: %d", transport.ErrStatus, page.Status)
		}
	}
	return nil, fmt.Errorf("more than %d redirects", maxSourceRedirects)
}

func resolve(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("bad redirect location %q: %w", location, err)
	}
	return base.ResolveReference(ref).String(), nil
}
