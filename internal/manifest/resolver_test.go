package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

const masterBody = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720
mid/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=400000,RESOLUTION=426x240
tiny/index.m3u8
`

func mediaBody(prefix string) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n")
	for i := 0; i < 4; i++ {
		fmt.Fprintf(&b, "#EXTINF:2.0,\n%s%d.ts\n", prefix, i)
	}
	return b.String()
}

func newTestResolver() *Resolver {
	cfg := DefaultConfig()
	cfg.HeadTimeout = time.Second
	cfg.FetchTimeout = time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewResolver(transport.New(transport.Config{}), cfg, logger)
}

func newOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/master.m3u8":
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			io.WriteString(w, masterBody)
		case strings.HasSuffix(r.URL.Path, "/index.m3u8"):
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			io.WriteString(w, mediaBody("seg"))
		case r.URL.Path == "/live":
			// Manifest detected by Content-Type only.
			w.Header().Set("Content-Type", "application/x-mpegURL")
			io.WriteString(w, mediaBody("/chunks/c"))
		case r.URL.Path == "/broken.m3u8":
			io.WriteString(w, "<html>maintenance</html>")
		case r.URL.Path == "/stream.ts":
			w.Header().Set("Content-Type", "video/mp2t")
		case strings.HasPrefix(r.URL.Path, "/hop/"):
			n, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
			if n == 0 {
				http.Redirect(w, r, "/master.m3u8", http.StatusFound)
				return
			}
			// Relative Location values must resolve against the current URL.
			http.Redirect(w, r, strconv.Itoa(n-1), http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// hopURL returns a URL that reaches /master.m3u8 after exactly n redirects.
func hopURL(base string, n int) string {
	return fmt.Sprintf("%s/hop/%d", base, n-1)
}

func TestResolve_SelectsHighestBandwidth(t *testing.T) {
	srv := newOrigin(t)

	rs, err := newTestResolver().Resolve(context.Background(), srv.URL+"/master.m3u8", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !rs.IsManifest {
		t.Fatalf("IsManifest = false, fallback = %v", rs.Fallback)
	}
	if rs.Bandwidth != 1200000 {
		t.Errorf("Bandwidth = %d, want 1200000", rs.Bandwidth)
	}
	if rs.Resolution != "1280x720" {
		t.Errorf("Resolution = %q, want 1280x720", rs.Resolution)
	}
	if len(rs.SegmentURLs) != 4 {
		t.Fatalf("segments = %d, want 4", len(rs.SegmentURLs))
	}
	if want := srv.URL + "/mid/seg0.ts"; rs.SegmentURLs[0] != want {
		t.Errorf("segment[0] = %q, want %q", rs.SegmentURLs[0], want)
	}
}

func TestResolve_ContentTypeDetection(t *testing.T) {
	srv := newOrigin(t)

	rs, err := newTestResolver().Resolve(context.Background(), srv.URL+"/live", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !rs.IsManifest {
		t.Fatal("expected manifest from Content-Type")
	}
	if rs.Resolution != model.ResolutionUnknown {
		t.Errorf("Resolution = %q, want unknown", rs.Resolution)
	}
	if want := srv.URL + "/chunks/c0.ts"; rs.SegmentURLs[0] != want {
		t.Errorf("segment[0] = %q, want %q", rs.SegmentURLs[0], want)
	}
}

func TestResolve_Progressive(t *testing.T) {
	srv := newOrigin(t)

	rs, err := newTestResolver().Resolve(context.Background(), srv.URL+"/stream.ts", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rs.IsManifest || len(rs.SegmentURLs) != 0 {
		t.Errorf("got IsManifest=%v segments=%d, want progressive", rs.IsManifest, len(rs.SegmentURLs))
	}
	if rs.Fallback != nil {
		t.Errorf("Fallback = %v, want nil", rs.Fallback)
	}
}

func TestResolve_ParseFailureFallsBack(t *testing.T) {
	srv := newOrigin(t)

	rs, err := newTestResolver().Resolve(context.Background(), srv.URL+"/broken.m3u8", nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rs.IsManifest {
		t.Error("broken playlist should fall back to progressive")
	}
	if !errors.Is(rs.Fallback, ErrNotManifest) {
		t.Errorf("Fallback = %v, want ErrNotManifest", rs.Fallback)
	}
	if rs.URL != srv.URL+"/broken.m3u8" {
		t.Errorf("URL = %q", rs.URL)
	}
}

func TestResolve_Unreachable(t *testing.T) {
	srv := newOrigin(t)

	_, err := newTestResolver().Resolve(context.Background(), srv.URL+"/nothing-here", nil)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestResolve_RedirectBound(t *testing.T) {
	srv := newOrigin(t)

	tests := []struct {
		hops    int
		wantErr error
	}{
		{hops: 1},
		{hops: 5},
		{hops: 6},
		{hops: 7, wantErr: ErrTooManyRedirects},
		{hops: 10, wantErr: ErrTooManyRedirects},
	}

	r := newTestResolver()
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.hops), func(t *testing.T) {
			rs, err := r.Resolve(context.Background(), hopURL(srv.URL, tt.hops), nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if rs.URL != srv.URL+"/master.m3u8" {
				t.Errorf("URL = %q, want final master URL", rs.URL)
			}
			if rs.Bandwidth != 1200000 {
				t.Errorf("Bandwidth = %d, want 1200000", rs.Bandwidth)
			}
		})
	}
}
