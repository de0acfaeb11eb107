package writer

import "time"

// Progress is the snapshot delivered to a ProgressFunc.
type Progress struct {
	BytesTotal            int64
	BytesCurrentFile      int64
	ItemsTotal            int64
	CurrentMediaDurationS float64
	SpeedBytesPerSec      float64
	PlaybackRatio         float64
}

// ProgressFunc receives throttled progress snapshots. It must not block
// for long; WriterCore calls it inline on the writer goroutine.
type ProgressFunc func(Progress)

// progressThrottle gates ProgressFunc invocations so that both
// MinInterval time and MinBytes bytes must have elapsed/accumulated
// since the last callback before another fires. Neither threshold alone
// is sufficient: a burst of tiny writes doesn't spam the callback, and a
// single huge write isn't held back indefinitely once the next item
// comes in.
type progressThrottle struct {
	minInterval time.Duration
	minBytes    int64

	lastFired      time.Time
	lastFiredBytes int64
	haveFired      bool
}

func newProgressThrottle(minInterval time.Duration, minBytes int64) *progressThrottle {
	return &progressThrottle{minInterval: minInterval, minBytes: minBytes}
}

// ready reports whether a callback should fire now, given the total
// bytes written so far and the current time.
func (p *progressThrottle) ready(now time.Time, bytesTotal int64) bool {
	if !p.haveFired {
		return true
	}
	if now.Sub(p.lastFired) < p.minInterval {
		return false
	}
	if bytesTotal-p.lastFiredBytes < p.minBytes {
		return false
	}
	return true
}

func (p *progressThrottle) record(now time.Time, bytesTotal int64) {
	p.lastFired = now
	p.lastFiredBytes = bytesTotal
	p.haveFired = true
}

// speedBytesPerSec computes a simple delta-based throughput sample
// between two throttle firings. firstSample guards against a division
// by a zero elapsed duration on the very first callback.
func speedBytesPerSec(prevBytes, curBytes int64, prevTime, curTime time.Time, firstSample bool) float64 {
	if firstSample {
		return 0
	}
	elapsed := curTime.Sub(prevTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(curBytes-prevBytes) / elapsed
}
