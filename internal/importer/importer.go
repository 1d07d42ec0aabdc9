// Package importer moves unclaimed rides from rideQueue into liveRides,
// deduplicating by trip id and never touching a claimed live ride.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	StatsDocID  = "lastDropDaily"
	ConfigDocID = "config"
	statsSchema = 2
)

type Options struct {
	// Trigger labels the run in the persisted stats, e.g. "noon-schedule" or "manual".
	Trigger string
	DryRun  bool
}

type Importer struct {
	Store  storage.Store
	Logger *slog.Logger
	Now    func() time.Time
}

func New(store storage.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{Store: store, Logger: logger, Now: time.Now}
}

// Run executes one dedup pass. Read failures on either source collection
// abort the pass; individual write failures do not. The returned stats are
// valid whenever the pass got past its reads, even if err is non-nil.
func (im *Importer) Run(ctx context.Context, opts Options) (models.ImportStats, error) {
	start := time.Now()
	now := im.Now().UTC()
	log := im.Logger.With("trigger", opts.Trigger, "dryRun", opts.DryRun)

	live, err := im.Store.List(ctx, models.CollectionLiveRides)
	if err != nil {
		observability.ImportRunsTotal.WithLabelValues(opts.Trigger, "error").Inc()
		return models.ImportStats{}, fmt.Errorf("read %s: %w", models.CollectionLiveRides, err)
	}
	queue, err := im.Store.List(ctx, models.CollectionRideQueue)
	if err != nil {
		observability.ImportRunsTotal.WithLabelValues(opts.Trigger, "error").Inc()
		return models.ImportStats{}, fmt.Errorf("read %s: %w", models.CollectionRideQueue, err)
	}

	idx := BuildIndex(live)
	decisions := Plan(idx, queue, now)

	if opts.DryRun {
		stats := Fold(idx, len(queue), decisions)
		stats.QueueCleared = len(queue)
		log.Info("dropDailyRides dry run", "stats", stats)
		observability.ImportRunsTotal.WithLabelValues(opts.Trigger, "dry_run").Inc()
		return stats, nil
	}

	im.apply(ctx, decisions, log)
	for _, d := range decisions {
		observability.ImportDecisionsTotal.WithLabelValues(d.Action.String()).Inc()
	}

	stats := Fold(idx, len(queue), decisions)
	cleared, deleteFailures := im.drain(ctx, queue, decisions, log)
	stats.QueueCleared = cleared
	stats.WriteFailures += deleteFailures
	observability.QueueRetained.Set(float64(len(queue) - cleared))

	if err := im.Store.SetMerge(ctx, models.CollectionAdminMeta, StatsDocID, models.Fields{
		"ranAt":   now,
		"stats":   stats.AsFields(),
		"trigger": opts.Trigger,
		"v":       statsSchema,
	}); err != nil {
		observability.ImportRunsTotal.WithLabelValues(opts.Trigger, "error").Inc()
		return stats, fmt.Errorf("persist stats: %w", err)
	}

	observability.ImportDuration.Observe(time.Since(start).Seconds())
	observability.ImportRunsTotal.WithLabelValues(opts.Trigger, "ok").Inc()
	log.Info("dropDailyRides complete", "stats", stats)
	return stats, nil
}

// apply writes creates and overwrites in one batch. Creates are create-only
// and overwrites are conditional on the version read into the index, so a
// ride claimed after the index was built is detected and re-checked.
func (im *Importer) apply(ctx context.Context, decisions []Decision, log *slog.Logger) {
	var (
		writes []storage.Write
		owners []int
	)
	for i, d := range decisions {
		switch d.Action {
		case ActionCreate:
			writes = append(writes, storage.Write{Op: storage.OpCreate, Collection: models.CollectionLiveRides, ID: d.Target.ID, Fields: d.Payload})
		case ActionOverwrite:
			writes = append(writes, storage.Write{Op: storage.OpSet, Collection: models.CollectionLiveRides, ID: d.Target.ID, Fields: d.Payload, IfVersion: d.Target.Version})
		default:
			continue
		}
		owners = append(owners, i)
	}
	if len(writes) == 0 {
		return
	}
	errs := im.Store.Batch(ctx, writes)
	for j, err := range errs {
		if err == nil {
			continue
		}
		d := &decisions[owners[j]]
		if errors.Is(err, storage.ErrAlreadyExists) || errors.Is(err, storage.ErrPreconditionFailed) {
			im.reconcile(ctx, d, log)
			continue
		}
		d.Err = err
		observability.ImportWriteFailuresTotal.WithLabelValues(writes[j].Op.String()).Inc()
		log.Error("dropDailyRides write failed", "tripId", d.TripKey, "op", writes[j].Op.String(), "error", err)
	}
}

// reconcile re-reads a live ride whose conditional write lost a race and
// retries once against the fresh state.
func (im *Importer) reconcile(ctx context.Context, d *Decision, log *slog.Logger) {
	cur, ok, err := storage.GetOptional(ctx, im.Store, models.CollectionLiveRides, d.Target.ID)
	if err != nil {
		d.Err = err
		observability.ImportWriteFailuresTotal.WithLabelValues("reconcile").Inc()
		log.Error("dropDailyRides reconcile read failed", "tripId", d.TripKey, "error", err)
		return
	}
	if !ok {
		d.Action = ActionCreate
		d.Err = im.Store.Create(ctx, models.CollectionLiveRides, d.Target.ID, d.Payload)
	} else if !normalize.Ride(cur.Fields).Unclaimed() {
		log.Info("dropDailyRides live ride claimed during pass", "tripId", d.TripKey)
		d.Action = ActionSkipClaimedLive
		d.Target = cur
		d.Err = nil
		return
	} else {
		d.Action = ActionOverwrite
		d.Target = cur
		d.Err = im.Store.Batch(ctx, []storage.Write{{
			Op: storage.OpSet, Collection: models.CollectionLiveRides, ID: cur.ID, Fields: d.Payload, IfVersion: cur.Version,
		}})[0]
	}
	if d.Err != nil {
		observability.ImportWriteFailuresTotal.WithLabelValues("reconcile").Inc()
		log.Error("dropDailyRides reconcile write failed", "tripId", d.TripKey, "error", d.Err)
	}
}

// drain deletes the scanned queue documents. Documents whose trip key failed
// to write are kept so the next pass can retry them.
func (im *Importer) drain(ctx context.Context, queue []models.Document, decisions []Decision, log *slog.Logger) (cleared, failures int) {
	failed := make(map[string]bool)
	for _, d := range decisions {
		if d.writes() && d.Err != nil {
			failed[d.TripKey] = true
		}
	}
	var writes []storage.Write
	for _, d := range decisions {
		if d.TripKey != "" && failed[d.TripKey] {
			continue
		}
		writes = append(writes, storage.Write{Op: storage.OpDelete, Collection: models.CollectionRideQueue, ID: d.QueueID})
	}
	if len(failed) > 0 {
		log.Warn("dropDailyRides retaining queue entries after failed writes", "retained", len(queue)-len(writes))
	}
	for i, err := range im.Store.Batch(ctx, writes) {
		if err != nil {
			failures++
			observability.ImportWriteFailuresTotal.WithLabelValues(storage.OpDelete.String()).Inc()
			log.Error("dropDailyRides queue delete failed", "queueId", writes[i].ID, "error", err)
			continue
		}
		cleared++
	}
	return cleared, failures
}

// Enabled reads AdminMeta/config; scheduled runs are skipped when
// dropEnabled is explicitly false. A missing config document means enabled.
func (im *Importer) Enabled(ctx context.Context) (bool, error) {
	doc, ok, err := storage.GetOptional(ctx, im.Store, models.CollectionAdminMeta, ConfigDocID)
	if err != nil || !ok {
		return true, err
	}
	if v, isBool := doc.Fields["dropEnabled"].(bool); isBool && !v {
		return false, nil
	}
	return true, nil
}

// LastRun returns the persisted stats document of the previous pass.
func (im *Importer) LastRun(ctx context.Context) (models.Fields, bool, error) {
	doc, ok, err := storage.GetOptional(ctx, im.Store, models.CollectionAdminMeta, StatsDocID)
	return doc.Fields, ok, err
}
