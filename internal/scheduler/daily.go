package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Daily fires once per day at a fixed local time-of-day.
type Daily struct {
	hour   int
	minute int
	loc    *time.Location
	logger zerolog.Logger
}

// NewDaily constructs the daily trigger for the given wall-clock slot.
func NewDaily(hour, minute int, loc *time.Location, logger zerolog.Logger) *Daily {
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		logger: logger.With().Str("component", "daily_scheduler").Logger(),
	}
}

// Run blocks, invoking fn at each daily slot until ctx is cancelled.
// Errors from fn are logged; the next slot is scheduled regardless.
func (d *Daily) Run(ctx context.Context, fn TickFunc) error {
	for {
		next := d.nextRun(time.Now().In(d.loc))
		d.logger.Debug().Time("next_run", next).Msg("waiting for daily slot")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		if err := fn(ctx, next); err != nil {
			d.logger.Error().Err(err).Msg("daily run failed")
		}
	}
}

// nextRun returns the first occurrence of the configured slot strictly
// after now, in the configured timezone.
func (d *Daily) nextRun(now time.Time) time.Time {
	now = now.In(d.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}
