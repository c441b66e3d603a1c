// Package stats turns raw download samples into per-stream estimates and
// summarizes a whole probe run.
//
// This file implements the throughput estimator. Throughput is total bytes
// over total transfer time across the valid samples of one stream, so a
// slow sample weighs in proportion to the time it took:
//
//	[(1 MiB, 1s), (3 MiB, 1s)] -> 4 MiB / 2s = 2.0 MB/s
package stats

import (
	"math"
	"time"

	"github.com/randomizedcoder/go-iptv-probe/internal/model"
)

// minElapsed floors the transfer time so a sample served from a local
// cache cannot produce an infinite speed.
const minElapsed = time.Millisecond

// Sample is one bounded download.
type Sample struct {
	URL       string
	Bytes     int64
	FirstByte time.Duration // <= 0 when unknown
	Elapsed   time.Duration
	Valid     bool
}

// Estimate is the aggregate of a stream's samples.
type Estimate struct {
	Speed   float64       // MB/s, 1 MB = 1048576 bytes
	Delay   int           // ms, model.InvalidDelay when no sample was valid
	Size    int64         // bytes across valid samples
	Elapsed time.Duration // transfer time across valid samples
	Valid   bool

	Samples      int
	ValidSamples int
}

// Aggregate combines samples into an Estimate. start is when probing of
// the stream began; it supplies the delay when no sample recorded a
// first-byte latency.
func Aggregate(samples []Sample, start time.Time) Estimate {
	return aggregate(samples, time.Since(start))
}

func aggregate(samples []Sample, wall time.Duration) Estimate {
	est := Estimate{Delay: model.InvalidDelay, Samples: len(samples)}

	var (
		latencySum   time.Duration
		latencyCount int
	)
	for _, s := range samples {
		if !s.Valid {
			continue
		}
		est.ValidSamples++
		est.Size += s.Bytes
		est.Elapsed += s.Elapsed
		if s.FirstByte > 0 {
			latencySum += s.FirstByte
			latencyCount++
		}
	}

	if est.ValidSamples == 0 {
		return est
	}

	elapsed := est.Elapsed
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	est.Speed = float64(est.Size) / model.BytesPerMB / elapsed.Seconds()
	est.Valid = true

	if latencyCount > 0 {
		est.Delay = roundMs(latencySum / time.Duration(latencyCount))
	} else {
		est.Delay = roundMs(wall)
	}
	return est
}

func roundMs(d time.Duration) int {
	return int(math.Round(float64(d) / float64(time.Millisecond)))
}
