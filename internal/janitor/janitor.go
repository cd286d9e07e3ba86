// Package janitor runs the periodic cleanup loops. One loop primitive serves
// both schedules; the next-run-time function is the only thing that differs
// between the fixed-interval token sweep and the nightly announcement sweep.
package janitor

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"announceit/internal/lib/logger"
)

// Schedule computes the next run time from the current one.
type Schedule func(now time.Time) time.Time

// Every runs at a fixed interval.
func Every(d time.Duration) Schedule {
	return func(now time.Time) time.Time {
		return now.Add(d)
	}
}

// DailyAt runs at the next occurrence of the given UTC hour, today or
// tomorrow.
func DailyAt(hourUTC int) Schedule {
	return func(now time.Time) time.Time {
		now = now.UTC()
		next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// Jitter spreads a schedule by a random offset of up to max, so multiple
// instances do not sweep in lockstep.
func Jitter(s Schedule, max time.Duration) Schedule {
	if max <= 0 {
		return s
	}
	return func(now time.Time) time.Time {
		return s(now).Add(time.Duration(rand.Int63n(int64(max))))
	}
}

// Run executes sweep on the schedule until ctx is cancelled, then performs
// one final best-effort sweep and returns. Sweep errors are logged and never
// stop the loop; the timer always re-arms.
func Run(ctx context.Context, log *slog.Logger, name string, schedule Schedule, sweep func(context.Context) error) {
	log = log.With(slog.String("janitor", name))

	log.Info("janitor started")

	for {
		now := time.Now()
		delay := schedule(now).Sub(now)

		timer := time.NewTimer(delay)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("janitor stopping, final sweep")
			// The loop's context is gone; give the last sweep its own.
			finalCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := sweep(finalCtx); err != nil {
				log.Error("final sweep failed", logger.Err(err))
			}
			cancel()
			log.Info("janitor stopped")
			return
		case <-timer.C:
		}

		if err := sweep(ctx); err != nil {
			log.Error("sweep failed", logger.Err(err))
			continue
		}

		log.Debug("sweep completed")
	}
}
