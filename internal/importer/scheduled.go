package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
)

// RunScheduled is the entry point for schedule-driven passes. It honours the
// dropEnabled switch and announces newly available rides to every registered
// push token. ran is false when the pass was disabled by config.
func (im *Importer) RunScheduled(ctx context.Context, trigger string) (stats models.ImportStats, ran bool, err error) {
	enabled, err := im.Enabled(ctx)
	if err != nil {
		return stats, false, fmt.Errorf("read drop config: %w", err)
	}
	if !enabled {
		im.Logger.Info("dropDailyRides skipped by config", "trigger", trigger)
		return stats, false, nil
	}
	stats, err = im.Run(ctx, Options{Trigger: trigger})
	if err != nil {
		return stats, true, err
	}
	if stats.Imported > 0 || stats.UpdatedExisting > 0 {
		if err := im.AnnounceAvailable(ctx, stats); err != nil {
			im.Logger.Error("notifyRidesAvailable failed", "error", err)
		}
	}
	return stats, true, nil
}

// AnnounceAvailable enqueues a notifyQueue entry targeting every distinct
// fcmTokens document. Nothing is enqueued when no tokens are registered.
func (im *Importer) AnnounceAvailable(ctx context.Context, stats models.ImportStats) error {
	tokens, err := im.Store.List(ctx, models.CollectionFCMTokens)
	if err != nil {
		return fmt.Errorf("read %s: %w", models.CollectionFCMTokens, err)
	}
	seen := make(map[string]bool, len(tokens))
	targets := make([]any, 0, len(tokens))
	for _, t := range tokens {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		targets = append(targets, map[string]any{"type": "fcm", "to": t.ID})
	}
	if len(targets) == 0 {
		im.Logger.Info("notifyRidesAvailable: no FCM tokens found")
		return nil
	}

	total := stats.Imported + stats.UpdatedExisting
	body := fmt.Sprintf("%d ride available to claim", total)
	if total > 1 {
		body = fmt.Sprintf("%d rides available to claim", total)
	}
	err = im.Store.Create(ctx, models.CollectionNotifyQueue, uuid.NewString(), models.Fields{
		"targets": targets,
		"context": map[string]any{
			"ticket": map[string]any{"title": "New Rides Available", "description": body},
			"link":   "/",
		},
		"status":    "pending",
		"createdAt": im.Now().UTC(),
	})
	if err != nil {
		return err
	}
	im.Logger.Info("notifyRidesAvailable: queued", "targets", len(targets), "rides", total)
	return nil
}
