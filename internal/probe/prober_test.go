package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/cache"
	"github.com/randomizedcoder/go-iptv-probe/internal/manifest"
	"github.com/randomizedcoder/go-iptv-probe/internal/model"
	"github.com/randomizedcoder/go-iptv-probe/internal/sampler"
	"github.com/randomizedcoder/go-iptv-probe/internal/transport"
)

// origin serves HLS and progressive content and counts every request.
type origin struct {
	*httptest.Server
	requests atomic.Int32
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	segment := bytes.Repeat([]byte{0x47}, 16*1024)

	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.requests.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, ".m3u8"):
			w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
			var b strings.Builder
			b.WriteString("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080\nhd/index.txt\n")
			if strings.Contains(r.URL.Path, "media") {
				b.Reset()
				b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n")
				for i := 0; i < 4; i++ {
					fmt.Fprintf(&b, "#EXTINF:2,\nseg%d.ts\n", i)
				}
			}
			io.WriteString(w, b.String())
		case strings.HasSuffix(r.URL.Path, "/hd/index.txt"):
			var b strings.Builder
			b.WriteString("#EXTM3U\n#EXT-X-TARGETDURATION:2\n")
			for i := 0; i < 4; i++ {
				fmt.Fprintf(&b, "#EXTINF:2,\nseg%d.ts\n", i)
			}
			io.WriteString(w, b.String())
		case strings.HasSuffix(r.URL.Path, ".ts"), strings.HasSuffix(r.URL.Path, ".flv"):
			w.Header().Set("Content-Type", "video/mp2t")
			if r.Method == http.MethodGet {
				w.Write(segment)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func newTestProber(hostCache *cache.HostCache, cfg Config) *Prober {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := transport.New(transport.Config{})

	rcfg := manifest.DefaultConfig()
	rcfg.HeadTimeout = time.Second
	rcfg.FetchTimeout = time.Second
	scfg := sampler.DefaultConfig()
	scfg.Timeout = time.Second

	return New(
		manifest.NewResolver(client, rcfg, logger),
		sampler.New(client, scfg, logger),
		hostCache,
		cfg,
		logger,
	)
}

func TestProbe_Manifest(t *testing.T) {
	o := newOrigin(t)
	p := newTestProber(nil, DefaultConfig())

	r := p.Probe(context.Background(), model.Candidate{Name: "CCTV1", URL: o.URL + "/live/master.m3u8"})

	if r.Outcome != model.OutcomeMeasured {
		t.Fatalf("Outcome = %q, want measured (%+v)", r.Outcome, r)
	}
	if r.Name != "CCTV1" || r.URL != o.URL+"/live/master.m3u8" {
		t.Errorf("identity = (%q, %q)", r.Name, r.URL)
	}
	if r.Speed <= 0 {
		t.Errorf("Speed = %v, want > 0", r.Speed)
	}
	if r.Delay < 0 {
		t.Errorf("Delay = %d, want >= 0", r.Delay)
	}
	if r.Resolution != "1920x1080" {
		t.Errorf("Resolution = %q, want variant resolution", r.Resolution)
	}
	if r.Size != 3*16*1024 {
		t.Errorf("Size = %d, want three sampled segments", r.Size)
	}
}

func TestProbe_Progressive(t *testing.T) {
	o := newOrigin(t)
	p := newTestProber(nil, DefaultConfig())

	r := p.Probe(context.Background(), model.Candidate{Name: "flv", URL: o.URL + "/live/stream.flv"})

	if r.Outcome != model.OutcomeMeasured {
		t.Fatalf("Outcome = %q, want measured", r.Outcome)
	}
	if r.Resolution != model.ResolutionUnknown {
		t.Errorf("Resolution = %q, want unknown", r.Resolution)
	}
	if r.Size != 16*1024 {
		t.Errorf("Size = %d, want %d", r.Size, 16*1024)
	}
}

func TestProbe_HostCacheSkipsNetwork(t *testing.T) {
	o := newOrigin(t)
	hc := cache.New(cache.Config{Enabled: true})
	p := newTestProber(hc, DefaultConfig())
	ctx := context.Background()

	first := p.Probe(ctx, model.Candidate{Name: "one", URL: o.URL + "/a/media.m3u8"})
	if first.Outcome != model.OutcomeMeasured {
		t.Fatalf("first Outcome = %q", first.Outcome)
	}
	before := o.requests.Load()

	second := p.Probe(ctx, model.Candidate{Name: "two", URL: o.URL + "/b/media.m3u8"})

	if after := o.requests.Load(); after != before {
		t.Errorf("second probe issued %d requests, want 0", after-before)
	}
	if second.Outcome != model.OutcomeCached {
		t.Errorf("second Outcome = %q, want cached", second.Outcome)
	}
	if second.Name != "two" || second.URL != o.URL+"/b/media.m3u8" {
		t.Errorf("cached result not re-attributed: (%q, %q)", second.Name, second.URL)
	}
	if second.Speed != first.Speed || second.Delay != first.Delay || second.Resolution != first.Resolution {
		t.Errorf("cached measurement differs: first %+v second %+v", first, second)
	}
}

func TestProbe_HostCacheDisabled(t *testing.T) {
	o := newOrigin(t)
	p := newTestProber(cache.New(cache.Config{Enabled: false}), DefaultConfig())
	ctx := context.Background()

	p.Probe(ctx, model.Candidate{Name: "one", URL: o.URL + "/a/media.m3u8"})
	before := o.requests.Load()
	r := p.Probe(ctx, model.Candidate{Name: "two", URL: o.URL + "/b/media.m3u8"})

	if o.requests.Load() == before {
		t.Error("second probe made no requests with caching disabled")
	}
	if r.Outcome != model.OutcomeMeasured {
		t.Errorf("Outcome = %q, want measured", r.Outcome)
	}
}

func TestProbe_SlowResultNotShared(t *testing.T) {
	o := newOrigin(t)
	hc := cache.New(cache.Config{Enabled: true, SpeedFilter: true, MinSpeed: math.MaxFloat64})
	p := newTestProber(hc, DefaultConfig())
	ctx := context.Background()

	p.Probe(ctx, model.Candidate{Name: "one", URL: o.URL + "/a/media.m3u8"})
	before := o.requests.Load()
	r := p.Probe(ctx, model.Candidate{Name: "two", URL: o.URL + "/b/media.m3u8"})

	if o.requests.Load() == before {
		t.Error("result below the speed threshold was shared")
	}
	if r.Outcome != model.OutcomeMeasured {
		t.Errorf("Outcome = %q, want measured", r.Outcome)
	}
}

// slowOrigin serves progressive streams whose GETs stall for delay before
// sending 16 KiB, and counts GETs per path.
type slowOrigin struct {
	*httptest.Server
	mu   sync.Mutex
	gets map[string]int
}

func newSlowOrigin(t *testing.T, delay time.Duration) *slowOrigin {
	t.Helper()
	o := &slowOrigin{gets: make(map[string]int)}
	body := bytes.Repeat([]byte{0x47}, 16*1024)

	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
		if r.Method != http.MethodGet {
			return
		}
		o.mu.Lock()
		o.gets[r.URL.Path]++
		o.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		w.Write(body)
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *slowOrigin) getsFor(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gets[path]
}

func TestProbe_SameHostBelowThresholdProbedInParallel(t *testing.T) {
	// 16 KiB per 300ms is far below 1 MB/s, so nothing is shared.
	o := newSlowOrigin(t, 300*time.Millisecond)
	hc := cache.New(cache.Config{Enabled: true, SpeedFilter: true, MinSpeed: 1})
	p := newTestProber(hc, Config{Timeout: time.Second})

	const n = 6
	results := make([]model.ProbeResult, n)
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := model.Candidate{Name: fmt.Sprintf("ch%d", i), URL: fmt.Sprintf("%s/ch%d.flv", o.URL, i)}
			results[i] = p.Probe(context.Background(), c)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r.Outcome != model.OutcomeMeasured || r.Delay == model.InvalidDelay {
			t.Errorf("ch%d = %s delay=%d, want measured", i, r.Outcome, r.Delay)
		}
		if got := o.getsFor(fmt.Sprintf("/ch%d.flv", i)); got < 1 {
			t.Errorf("ch%d was never requested", i)
		}
	}
	// One owner round plus one parallel round, not one round per candidate.
	if elapsed := time.Since(start); elapsed > n*300*time.Millisecond {
		t.Errorf("probes took %v, same-host candidates were serialised", elapsed)
	}
	if st := hc.Stats(); st.Stored != 0 || st.Ungated != 1 {
		t.Errorf("cache stats = %+v, want nothing stored and the host ungated", st)
	}
}

func TestProbe_SameHostWaitKeepsOwnTimeout(t *testing.T) {
	ownerStarted := make(chan struct{})
	var once sync.Once
	body := bytes.Repeat([]byte{0x47}, 16*1024)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/x-flv")
		if r.Method != http.MethodGet {
			return
		}
		if r.URL.Path == "/stall.flv" {
			once.Do(func() { close(ownerStarted) })
			<-r.Context().Done()
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	hc := cache.New(cache.Config{Enabled: true})
	p := newTestProber(hc, Config{Timeout: 500 * time.Millisecond})
	ctx := context.Background()

	ownerDone := make(chan model.ProbeResult, 1)
	go func() {
		ownerDone <- p.Probe(ctx, model.Candidate{Name: "stall", URL: srv.URL + "/stall.flv"})
	}()
	select {
	case <-ownerStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("owner never reached the origin")
	}

	// This candidate waits out most of the owner's timeout before probing.
	r := p.Probe(ctx, model.Candidate{Name: "live", URL: srv.URL + "/live.flv"})

	if r.Outcome != model.OutcomeMeasured {
		t.Errorf("waiting candidate = %s delay=%d, want measured", r.Outcome, r.Delay)
	}
	if owner := <-ownerDone; owner.Outcome != model.OutcomeFailed {
		t.Errorf("stalled owner = %s, want failed", owner.Outcome)
	}
}

func TestProbe_UnreachableIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.m3u8"
	srv.Close()

	p := newTestProber(cache.New(cache.Config{Enabled: true}), DefaultConfig())
	c := model.Candidate{Name: "dead", URL: url}

	first := p.Probe(context.Background(), c)
	second := p.Probe(context.Background(), c)

	want := model.FailedResult(c)
	for i, r := range []model.ProbeResult{first, second} {
		if r != want {
			t.Errorf("probe %d = %+v, want %+v", i+1, r, want)
		}
	}
}

func TestProbe_NotFound(t *testing.T) {
	o := newOrigin(t)
	p := newTestProber(nil, DefaultConfig())

	r := p.Probe(context.Background(), model.Candidate{Name: "x", URL: o.URL + "/missing"})
	if r.Delay != model.InvalidDelay || r.Speed != 0 {
		t.Errorf("got %+v, want failed result", r)
	}
}

func TestProbe_IPv6Forced(t *testing.T) {
	p := newTestProber(nil, DefaultConfig())
	c := model.Candidate{Name: "v6", URL: "http://[2001:db8::1]:8080/live.m3u8"}

	r := p.Probe(context.Background(), c)

	if r.Outcome != model.OutcomeForced {
		t.Fatalf("Outcome = %q, want forced", r.Outcome)
	}
	if !math.IsInf(r.Speed, 1) || r.Delay != model.ForcedDelay || r.Resolution != model.ForcedResolution {
		t.Errorf("forced result = %+v", r)
	}
}

func TestProbe_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := newTestProber(nil, Config{Timeout: 100 * time.Millisecond})

	start := time.Now()
	r := p.Probe(context.Background(), model.Candidate{Name: "slow", URL: srv.URL + "/live.m3u8"})

	if r.Outcome != model.OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", r.Outcome)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("probe took %v, timeout not honoured", elapsed)
	}
}

func TestIsIPv6Literal(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://[2001:db8::1]/x", true},
		{"http://[::1]:8080/x", true},
		{"http://[::ffff:192.0.2.1]/x", false},
		{"http://192.0.2.1/x", false},
		{"http://example.com/x", false},
		{"::bad", false},
	}
	for _, tt := range tests {
		if got := IsIPv6Literal(tt.url); got != tt.want {
			t.Errorf("IsIPv6Literal(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
