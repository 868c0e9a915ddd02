// Package pipeline runs the node's background jobs: event archival on a
// cron schedule and periodic housekeeping.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketvault/internal/domain"
)

const archiveLockTTL = 10 * time.Minute

// Archiver moves events older than the retention period to cold storage.
// With a lock manager, only one node archives at a time.
type Archiver struct {
	archiver  domain.Archiver
	retention time.Duration
	locks     domain.LockManager
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. locks may be nil.
func NewArchiver(archiver domain.Archiver, retention time.Duration, locks domain.LockManager, logger *slog.Logger) *Archiver {
	return &Archiver{
		archiver:  archiver,
		retention: retention,
		locks:     locks,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_job")),
	}
}

// Run archives once and returns the number of archived events. It returns
// zero without error when another node holds the archive lock.
func (a *Archiver) Run(ctx context.Context) (int64, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, "archive", archiveLockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.InfoContext(ctx, "archive skipped, another node is running it")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("archive lock: %w", err)
		}
		defer unlock()
	}

	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)
	n, err := a.archiver.ArchiveEvents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archiving events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("events", n))
	return n, nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx ends.
// Failed runs are logged and retried at the next trigger.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	for {
		next, err := cron.next(a.now().UTC())
		if err != nil {
			return err
		}
		a.logger.DebugContext(ctx, "archive waiting", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if _, err := a.Run(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronField matches one field of a cron expression.
type cronField struct {
	wildcard bool
	step     int
	values   []int
}

func (f cronField) matches(val int) bool {
	if f.wildcard {
		return f.step <= 1 || val%f.step == 0
	}
	for _, v := range f.values {
		if v == val {
			return true
		}
	}
	return false
}

// parseCronField accepts "*", "*/n" and comma-separated values within
// [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}
	if rest, ok := strings.CutPrefix(field, "*/"); ok {
		step, err := strconv.Atoi(rest)
		if err != nil || step < 1 {
			return cronField{}, fmt.Errorf("invalid cron step %q", field)
		}
		return cronField{wildcard: true, step: step}, nil
	}
	parts := strings.Split(field, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return cronField{}, fmt.Errorf("invalid cron field value %q: %w", p, err)
		}
		if v < lo || v > hi {
			return cronField{}, fmt.Errorf("cron value %d outside [%d, %d]", v, lo, hi)
		}
		values = append(values, v)
	}
	return cronField{values: values}, nil
}

type parsedCron struct {
	minute, hour, dayOfMonth, month, dayOfWeek cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// ValidateCron reports whether expr is a cron expression RunCron accepts.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// next returns the first minute after t matching c, searching one year.
func (c parsedCron) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no matching time within a year")
}
