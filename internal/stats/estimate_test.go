package stats

import (
	"math"
	"testing"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

const mib = model.BytesPerMB

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		samples   []Sample
		wall      time.Duration
		wantSpeed float64
		wantDelay int
		wantSize  int64
		wantValid bool
	}{
		{
			name: "total bytes over total time",
			samples: []Sample{
				{Bytes: 1 * mib, Elapsed: time.Second, FirstByte: 40 * time.Millisecond, Valid: true},
				{Bytes: 3 * mib, Elapsed: time.Second, FirstByte: 60 * time.Millisecond, Valid: true},
			},
			wantSpeed: 2.0,
			wantDelay: 50,
			wantSize:  4 * mib,
			wantValid: true,
		},
		{
			name: "invalid samples ignored",
			samples: []Sample{
				{Bytes: 2 * mib, Elapsed: time.Second, FirstByte: 10 * time.Millisecond, Valid: true},
				{Bytes: 100, Elapsed: 5 * time.Second, FirstByte: 900 * time.Millisecond, Valid: false},
			},
			wantSpeed: 2.0,
			wantDelay: 10,
			wantSize:  2 * mib,
			wantValid: true,
		},
		{
			name: "no first byte falls back to wall clock",
			samples: []Sample{
				{Bytes: mib, Elapsed: 2 * time.Second, Valid: true},
			},
			wall:      1234 * time.Millisecond,
			wantSpeed: 0.5,
			wantDelay: 1234,
			wantSize:  mib,
			wantValid: true,
		},
		{
			name: "latency rounds to nearest ms",
			samples: []Sample{
				{Bytes: mib, Elapsed: time.Second, FirstByte: 1500 * time.Microsecond, Valid: true},
				{Bytes: mib, Elapsed: time.Second, FirstByte: 2 * time.Millisecond, Valid: true},
			},
			wantSpeed: 1.0,
			wantDelay: 2,
			wantSize:  2 * mib,
			wantValid: true,
		},
		{
			name: "all invalid",
			samples: []Sample{
				{Bytes: 10, Elapsed: time.Second, Valid: false},
			},
			wantSpeed: 0,
			wantDelay: model.InvalidDelay,
		},
		{
			name:      "no samples",
			wantSpeed: 0,
			wantDelay: model.InvalidDelay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := aggregate(tt.samples, tt.wall)

			if math.Abs(est.Speed-tt.wantSpeed) > 1e-9 {
				t.Errorf("Speed = %v, want %v", est.Speed, tt.wantSpeed)
			}
			if est.Delay != tt.wantDelay {
				t.Errorf("Delay = %d, want %d", est.Delay, tt.wantDelay)
			}
			if est.Size != tt.wantSize {
				t.Errorf("Size = %d, want %d", est.Size, tt.wantSize)
			}
			if est.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v", est.Valid, tt.wantValid)
			}
			if est.Samples != len(tt.samples) {
				t.Errorf("Samples = %d, want %d", est.Samples, len(tt.samples))
			}
		})
	}
}

func TestAggregate_ZeroElapsedIsFinite(t *testing.T) {
	est := aggregate([]Sample{{Bytes: mib, Elapsed: 0, FirstByte: time.Millisecond, Valid: true}}, 0)
	if math.IsInf(est.Speed, 0) || math.IsNaN(est.Speed) {
		t.Errorf("Speed = %v, want finite", est.Speed)
	}
}

func TestAggregate_WallClockFromStart(t *testing.T) {
	start := time.Now().Add(-300 * time.Millisecond)
	est := Aggregate([]Sample{{Bytes: mib, Elapsed: time.Second, Valid: true}}, start)
	if est.Delay < 300 {
		t.Errorf("Delay = %d, want >= 300 (time since start)", est.Delay)
	}
}
