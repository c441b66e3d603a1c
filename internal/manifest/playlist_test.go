package manifest

import (
	"errors"
	"net/url"
	"reflect"
	"testing"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return u
}

func TestParse_MasterPlaylist(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,CODECS=\"avc1.4d401e,mp4a.40.2\"\n" +
		"low/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720,CODECS=\"avc1.4d401f,mp4a.40.2\"\n" +
		"mid/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=64000,CODECS=\"mp4a.40.5\"\n" +
		"audio/index.m3u8\n"

	p, err := Parse([]byte(body), mustURL(t, "http://cdn.example/live/master.m3u8"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !p.IsMaster() {
		t.Fatal("expected master playlist")
	}
	if len(p.Variants) != 3 {
		t.Fatalf("variants = %d, want 3", len(p.Variants))
	}

	best, ok := p.BestVariant()
	if !ok {
		t.Fatal("BestVariant returned !ok")
	}
	if best.Bandwidth != 1200000 {
		t.Errorf("best bandwidth = %d, want 1200000", best.Bandwidth)
	}
	if best.URI != "http://cdn.example/live/mid/index.m3u8" {
		t.Errorf("best URI = %q", best.URI)
	}
	if best.Codecs != "avc1.4d401f,mp4a.40.2" {
		t.Errorf("codecs = %q, quoted comma not preserved", best.Codecs)
	}
	if got := VariantResolution(p.Variants[2]); got != model.ResolutionAudioOnly {
		t.Errorf("audio variant resolution = %q, want audio-only", got)
	}
}

func TestParse_MediaPlaylist(t *testing.T) {
	body := "#EXTM3U\r\n" +
		"#EXT-X-TARGETDURATION:4\r\n" +
		"#EXT-X-MEDIA-SEQUENCE:100\r\n" +
		"#EXT-X-UNKNOWN-TAG:whatever\r\n" +
		"#EXTINF:4.000,\r\n" +
		"seg100.ts\r\n" +
		"#EXTINF:4.000,\r\n" +
		"/abs/seg101.ts\r\n" +
		"#EXTINF:4.000,\r\n" +
		"https://other.example/seg102.ts\r\n"

	p, err := Parse([]byte(body), mustURL(t, "http://cdn.example/live/chan/index.m3u8"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{
		"http://cdn.example/live/chan/seg100.ts",
		"http://cdn.example/abs/seg101.ts",
		"https://other.example/seg102.ts",
	}
	if !reflect.DeepEqual(p.Segments, want) {
		t.Errorf("segments = %v, want %v", p.Segments, want)
	}
	if p.IsMaster() {
		t.Error("media playlist reported as master")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{name: "missing header", body: "#EXTINF:4,\nseg.ts\n", want: ErrNotManifest},
		{name: "html page", body: "<html><body>nope</body></html>", want: ErrNotManifest},
		{name: "empty body", body: "", want: ErrNotManifest},
		{name: "header only", body: "#EXTM3U\n#EXT-X-ENDLIST\n", want: ErrEmptyPlaylist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), mustURL(t, "http://h/x.m3u8"))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseAttributes(t *testing.T) {
	tests := []struct {
		in   string
		want map[string]string
	}{
		{
			in:   `BANDWIDTH=1200000,RESOLUTION=1280x720`,
			want: map[string]string{"BANDWIDTH": "1200000", "RESOLUTION": "1280x720"},
		},
		{
			in:   `CODECS="avc1.4d401f,mp4a.40.2",BANDWIDTH=5`,
			want: map[string]string{"CODECS": "avc1.4d401f,mp4a.40.2", "BANDWIDTH": "5"},
		},
		{
			in:   `NAME="unterminated`,
			want: map[string]string{"NAME": "unterminated"},
		},
		{
			in:   ``,
			want: map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseAttributes(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseAttributes(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVariantResolution(t *testing.T) {
	tests := []struct {
		name string
		v    Variant
		want string
	}{
		{name: "declared", v: Variant{Resolution: "1920x1080", Codecs: "avc1"}, want: "1920x1080"},
		{name: "audio only", v: Variant{Codecs: "mp4a.40.2"}, want: model.ResolutionAudioOnly},
		{name: "mixed without resolution", v: Variant{Codecs: "avc1.64001f,mp4a.40.2"}, want: model.ResolutionUnknown},
		{name: "nothing declared", v: Variant{}, want: model.ResolutionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VariantResolution(tt.v); got != tt.want {
				t.Errorf("VariantResolution = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in     string
		w, h   int
		wantOK bool
	}{
		{in: "1280x720", w: 1280, h: 720, wantOK: true},
		{in: "3840X2160", w: 3840, h: 2160, wantOK: true},
		{in: " 640x360 ", w: 640, h: 360, wantOK: true},
		{in: "audio-only"},
		{in: "unknown"},
		{in: "1280"},
		{in: "x720"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, ok := ParseResolution(tt.in)
			if ok != tt.wantOK || w != tt.w || h != tt.h {
				t.Errorf("ParseResolution(%q) = (%d, %d, %v), want (%d, %d, %v)", tt.in, w, h, ok, tt.w, tt.h, tt.wantOK)
			}
		})
	}
}

func TestIsManifest(t *testing.T) {
	tests := []struct {
		ct   string
		url  string
		want bool
	}{
		{ct: "application/vnd.apple.mpegurl", url: "http://h/live", want: true},
		{ct: "Application/X-MpegURL; charset=UTF-8", url: "http://h/live", want: true},
		{ct: "audio/mpegurl", url: "http://h/live", want: true},
		{ct: "audio/x-mpegurl", url: "http://h/live", want: true},
		{ct: "video/mp2t", url: "http://h/live/index.M3U8?token=1", want: true},
		{ct: "video/mp2t", url: "http://h/live.ts", want: false},
		{ct: "", url: "http://h/live.flv", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.ct+" "+tt.url, func(t *testing.T) {
			if got := IsManifest(tt.ct, tt.url); got != tt.want {
				t.Errorf("IsManifest(%q, %q) = %v, want %v", tt.ct, tt.url, got, tt.want)
			}
		})
	}
}
