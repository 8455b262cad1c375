package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide IMP traffic counter.
var Stats = &stats{}

type stats struct {
	FramesSent atomic.Int64 // cumulative datagrams written to the IMP socket
	FramesRecv atomic.Int64 // cumulative datagrams read from the IMP socket
	BytesSent  atomic.Int64 // cumulative bytes written to the IMP socket
	BytesRecv  atomic.Int64 // cumulative bytes read  from the IMP socket
	Drops      atomic.Int64 // cumulative datagrams dropped as framing faults
}

func (s *stats) AddSent(n int) { s.FramesSent.Add(1); s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.FramesRecv.Add(1); s.BytesRecv.Add(int64(n)) }
func (s *stats) AddDrop()      { s.Drops.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs IMP link statistics
// every 10 seconds. Quiet intervals are not reported. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevDrops int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.BytesSent.Load()
				recv := Stats.BytesRecv.Load()
				drops := Stats.Drops.Load()

				outS := float64(sent-prevSent) / 10.0
				inS := float64(recv-prevRecv) / 10.0
				badC := drops - prevDrops

				if inS > 0 || outS > 0 || badC > 0 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, badC))
				}

				prevSent = sent
				prevRecv = recv
				prevDrops = drops

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, bad int64) string {
	return fmt.Sprintf("IMP in: %s/s | out: %s/s | dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		bad,
	)
}
