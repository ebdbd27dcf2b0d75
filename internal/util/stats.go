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

// Stats is the process-wide negotiation/media counter.
var Stats = &stats{}

type stats struct {
	Offers             atomic.Int64 // offers created across all legs
	Answers            atomic.Int64 // answers created across all legs
	CandidatesRelayed  atomic.Int64 // candidates accepted by their destination
	CandidatesBuffered atomic.Int64 // candidates held until the destination had a remote description
	CandidatesFailed   atomic.Int64 // candidates the destination rejected
	TracksReceived     atomic.Int64 // remote stream notifications delivered to sinks
	MediaRecv          atomic.Int64 // cumulative inbound RTP bytes
}

func (s *stats) AddOffer()          { s.Offers.Add(1) }
func (s *stats) AddAnswer()         { s.Answers.Add(1) }
func (s *stats) AddRelayed()        { s.CandidatesRelayed.Add(1) }
func (s *stats) AddBuffered()       { s.CandidatesBuffered.Add(1) }
func (s *stats) AddFailed()         { s.CandidatesFailed.Add(1) }
func (s *stats) AddTrack()          { s.TracksReceived.Add(1) }
func (s *stats) AddMediaRecv(n int) { s.MediaRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevRecv, prevRelayed, prevFailed int64
		for {
			select {
			case <-ticker.C:
				recv := Stats.MediaRecv.Load()
				relayed := Stats.CandidatesRelayed.Load()
				failed := Stats.CandidatesFailed.Load()

				inS := float64(recv-prevRecv) / interval.Seconds()
				inC := relayed - prevRelayed
				outC := failed - prevFailed

				if inC > 0 || outC > 0 || inS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, inC, outC))
				}

				prevRecv = recv
				prevRelayed = relayed
				prevFailed = failed

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
func formatStats(inS float64, relayed, failed int64) string {
	return fmt.Sprintf("Media: %s/s | Candidates: %2d✓ %2d✗",
		formatBytes(inS),
		relayed,
		failed,
	)
}
