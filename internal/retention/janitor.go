// Package retention removes capability tokens that expired unredeemed.
//
// Expired tokens are already rejected at redemption, so purging is only
// housekeeping: it keeps the token table small and stops stale links from
// being listed for redelivery.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is used when the configured interval is too short.
const DefaultInterval = time.Hour

// Purger deletes expired tokens and reports how many were removed.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// CycleStats tracks what happened in a single sweep.
type CycleStats struct {
	TokensPurged int64
	Elapsed      time.Duration
	Err          error
}

// Janitor periodically purges expired tokens.
type Janitor struct {
	purger   Purger
	interval time.Duration
}

// NewJanitor creates a janitor that runs on the given interval.
func NewJanitor(p Purger, interval time.Duration) *Janitor {
	if interval < time.Minute {
		interval = DefaultInterval
	}
	return &Janitor{purger: p, interval: interval}
}

// Interval returns the effective sweep interval.
func (j *Janitor) Interval() time.Duration {
	return j.interval
}

// Start runs sweeps until ctx is canceled. It sweeps once immediately.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().Dur("interval", j.interval).Msg("Token janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Token janitor stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep.
func (j *Janitor) RunOnce(ctx context.Context) CycleStats {
	start := time.Now()
	n, err := j.purger.PurgeExpired(ctx)
	stats := CycleStats{TokensPurged: n, Elapsed: time.Since(start), Err: err}
	if err != nil {
		log.Warn().Err(err).Msg("Token janitor: purge failed")
		return stats
	}
	if n > 0 {
		log.Info().
			Int64("purged_tokens", n).
			Dur("elapsed", stats.Elapsed).
			Msg("Retention cycle complete")
	}
	return stats
}
