// Package schedule runs jobs once a day at fixed wall-clock hours.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Job is one scheduled invocation.
type Job func(ctx context.Context) error

// Slot is one daily run: the trigger label it records and its local hour.
type Slot struct {
	Label string
	Hour  int
}

// ParseSlots reads "label@hour" entries such as "noon-schedule@12".
func ParseSlots(entries []string) ([]Slot, error) {
	slots := make([]Slot, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		label, hour, ok := strings.Cut(strings.TrimSpace(e), "@")
		label = strings.TrimSpace(label)
		if !ok || label == "" {
			return nil, fmt.Errorf("schedule slot %q: want label@hour", e)
		}
		h, err := strconv.Atoi(strings.TrimSpace(hour))
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("schedule slot %q: hour must be in 0..23", e)
		}
		if seen[label] {
			return nil, fmt.Errorf("schedule slot %q: duplicate label", e)
		}
		seen[label] = true
		slots = append(slots, Slot{Label: label, Hour: h})
	}
	return slots, nil
}

// ForSlots builds one Daily per slot. run receives the slot's label so each
// run is recorded under its own trigger.
func ForSlots(slots []Slot, loc *time.Location, run func(ctx context.Context, label string) error, logger *slog.Logger) []*Daily {
	out := make([]*Daily, 0, len(slots))
	for _, s := range slots {
		label := s.Label
		out = append(out, NewDaily(label, s.Hour, loc, func(ctx context.Context) error {
			return run(ctx, label)
		}, logger))
	}
	return out
}

type Daily struct {
	Name   string
	Hour   int
	Loc    *time.Location
	Job    Job
	Logger *slog.Logger
	Now    func() time.Time
	After  func(d time.Duration) <-chan time.Time
}

func NewDaily(name string, hour int, loc *time.Location, job Job, logger *slog.Logger) *Daily {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Daily{Name: name, Hour: hour, Loc: loc, Job: job, Logger: logger, Now: time.Now, After: time.After}
}

// NextRun returns the first hour:00 in loc strictly after now. Wall-clock
// hours are kept across DST changes.
func NextRun(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is canceled. A failing job is logged and the next
// day's run is still scheduled.
func (d *Daily) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		now := d.Now()
		next := NextRun(now, d.Hour, d.Loc)
		d.Logger.Info("schedule.next", "job", d.Name, "at", next)
		select {
		case <-ctx.Done():
			return nil
		case <-d.After(next.Sub(now)):
		}
		start := time.Now()
		if err := d.Job(ctx); err != nil {
			d.Logger.Error("schedule.jobFailed", "job", d.Name, "error", err)
			continue
		}
		d.Logger.Info("schedule.jobDone", "job", d.Name, "took", time.Since(start))
	}
	return nil
}
