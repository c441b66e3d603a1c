// Package manifest resolves a stream URL to the media it serves.
//
// An HLS playlist comes in two shapes. A multi-variant (master) playlist
// lists renditions:
//
//	#EXTM3U
//	#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2"
//	720p/index.m3u8
//
// A media playlist lists segments:
//
//	#EXTM3U
//	#EXT-X-TARGETDURATION:4
//	#EXTINF:4.000,
//	seg00123.ts
//
// The parser only extracts what probing needs (variants, segment URIs and
// declared resolution). Unknown tags are ignored.
package manifest

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

var (
	// ErrNotManifest is returned when the body does not start with #EXTM3U.
	ErrNotManifest = errors.New("not an m3u8 playlist")

	// ErrEmptyPlaylist is returned for a playlist with no variants or segments.
	ErrEmptyPlaylist = errors.New("playlist has no variants or segments")
)

const (
	tagHeader    = "#EXTM3U"
	tagStreamInf = "#EXT-X-STREAM-INF:"
)

// resolutionRe matches a numeric "WxH" declaration.
var resolutionRe = regexp.MustCompile(`^(\d+)[xX](\d+)$`)

// Variant is one rendition listed by a multi-variant playlist.
type Variant struct {
	URI        string
	Bandwidth  int64
	Resolution string // "WxH" as declared, or empty
	Codecs     string
}

// Playlist is the parsed form of an m3u8 body.
type Playlist struct {
	Variants []Variant
	Segments []string

	// Resolution is the first RESOLUTION attribute seen in a media playlist.
	Resolution string
}

// IsMaster reports whether the playlist lists variants rather than segments.
func (p *Playlist) IsMaster() bool {
	return len(p.Variants) > 0
}

// BestVariant returns the variant with the highest BANDWIDTH. Ties keep
// the earliest listed.
func (p *Playlist) BestVariant() (Variant, bool) {
	if len(p.Variants) == 0 {
		return Variant{}, false
	}
	best := p.Variants[0]
	for _, v := range p.Variants[1:] {
		if v.Bandwidth > best.Bandwidth {
			best = v
		}
	}
	return best, true
}

// Parse parses an m3u8 body. URIs are resolved against base, which should
// be the URL the body was fetched from.
func Parse(body []byte, base *url.URL) (*Playlist, error) {
	body = bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	p := &Playlist{}
	sawHeader := false
	var pending *Variant

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !sawHeader {
			if !strings.HasPrefix(line, tagHeader) {
				return nil, ErrNotManifest
			}
			sawHeader = true
			continue
		}

		switch {
		case strings.HasPrefix(line, tagStreamInf):
			attrs := ParseAttributes(line[len(tagStreamInf):])
			v := Variant{
				Resolution: attrs["RESOLUTION"],
				Codecs:     attrs["CODECS"],
			}
			v.Bandwidth, _ = strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
			pending = &v

		case strings.HasPrefix(line, "#"):
			if p.Resolution == "" && strings.Contains(line, "RESOLUTION=") {
				if _, rest, ok := strings.Cut(line, ":"); ok {
					p.Resolution = ParseAttributes(rest)["RESOLUTION"]
				}
			}

		default:
			uri, err := resolveRef(base, line)
			if err != nil {
				pending = nil
				continue
			}
			if pending != nil {
				pending.URI = uri
				p.Variants = append(p.Variants, *pending)
				pending = nil
				continue
			}
			p.Segments = append(p.Segments, uri)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan playlist: %w", err)
	}
	if !sawHeader {
		return nil, ErrNotManifest
	}
	if len(p.Variants) == 0 && len(p.Segments) == 0 {
		return nil, ErrEmptyPlaylist
	}
	return p, nil
}

// ParseAttributes splits an HLS attribute list (KEY=VALUE,KEY="a,b").
// Quoted values keep embedded commas and lose their quotes.
func ParseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for len(s) > 0 {
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToUpper(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			end := strings.IndexByte(s[1:], '"')
			if end < 0 {
				value, s = s[1:], ""
			} else {
				value, s = s[1:end+1], s[end+2:]
			}
			if i := strings.IndexByte(s, ','); i >= 0 {
				s = s[i+1:]
			} else {
				s = ""
			}
		} else if i := strings.IndexByte(s, ','); i >= 0 {
			value, s = s[:i], s[i+1:]
		} else {
			value, s = s, ""
		}
		if key != "" {
			attrs[key] = strings.TrimSpace(value)
		}
	}
	return attrs
}

// VariantResolution labels a variant for ranking: its RESOLUTION when
// declared, audio-only when CODECS names only audio codecs, else unknown.
func VariantResolution(v Variant) string {
	if v.Resolution != "" {
		return v.Resolution
	}
	if audioOnlyCodecs(v.Codecs) {
		return model.ResolutionAudioOnly
	}
	return model.ResolutionUnknown
}

var audioCodecPrefixes = []string{"mp4a", "ac-3", "ec-3", "opus", "flac", "alac", "mp3"}

func audioOnlyCodecs(codecs string) bool {
	if strings.TrimSpace(codecs) == "" {
		return false
	}
	for _, c := range strings.Split(codecs, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		audio := false
		for _, prefix := range audioCodecPrefixes {
			if strings.HasPrefix(c, prefix) {
				audio = true
				break
			}
		}
		if !audio {
			return false
		}
	}
	return true
}

// ParseResolution extracts the width and height of a "WxH" string.
func ParseResolution(s string) (width, height int, ok bool) {
	m := resolutionRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	width, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, 0, false
	}
	height, err = strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return width, height, true
}

func resolveRef(base *url.URL, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	if base == nil {
		return u.String(), nil
	}
	return base.ResolveReference(u).String(), nil
}
