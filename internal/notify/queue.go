package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/normalize"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// QueueGuardNamespace is the marker namespace for notifyQueue deliveries.
const QueueGuardNamespace = "notifyQueueOnCreate"

// Target is one recipient of a notifyQueue message.
type Target struct {
	Type string // fcm or sms
	To   string
}

// QueueMessage is a decoded notifyQueue document.
type QueueMessage struct {
	Targets     []Target
	Title       string
	Description string
	Link        string
}

// ParseQueueMessage reads targets and the ticket context. Targets without a
// type or address are dropped and duplicates collapse.
func ParseQueueMessage(f models.Fields) QueueMessage {
	var m QueueMessage
	seen := map[Target]bool{}
	items, _ := normalize.Slice(f["targets"])
	for _, it := range items {
		tm, ok := normalize.Map(it)
		if !ok {
			continue
		}
		t := Target{
			Type: strings.ToLower(normalize.String(tm, "type")),
			To:   normalize.String(tm, "to"),
		}
		if t.Type == "" || t.To == "" || seen[t] {
			continue
		}
		seen[t] = true
		m.Targets = append(m.Targets, t)
	}
	mctx, _ := normalize.Map(f["context"])
	ticket, _ := normalize.Map(mctx["ticket"])
	m.Title = normalize.String(ticket, "title", "subject")
	if m.Title == "" {
		m.Title = "Notification"
	}
	m.Description = normalize.String(ticket, "description")
	m.Link = normalize.String(mctx, "link")
	return m
}

// QueueProcessor delivers notifyQueue documents on create and writes the
// delivery status back onto the document.
type QueueProcessor struct {
	Store  storage.Store
	Guard  Guard
	Push   dispatch.Pusher
	SMS    dispatch.Gateway
	Logger *slog.Logger
	Now    func() time.Time
}

func NewQueueProcessor(store storage.Store, guard Guard, push dispatch.Pusher, sms dispatch.Gateway, logger *slog.Logger) *QueueProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueProcessor{Store: store, Guard: guard, Push: push, SMS: sms, Logger: logger, Now: time.Now}
}

// HandleCreated is the notifyQueue onCreate trigger. Delivery failures are
// recorded on the document rather than returned, so they are not redelivered.
// A message needing an unconfigured gateway is marked failed without taking
// the event marker, so a redelivery after configuration is fixed still sends.
func (q *QueueProcessor) HandleCreated(ctx context.Context, c models.Change) error {
	if c.After == nil {
		return nil
	}
	log := q.Logger.With("eventId", c.EventID, "id", c.DocID)
	msg := ParseQueueMessage(c.After)

	if missing := q.unconfigured(msg); len(missing) > 0 {
		err := fmt.Errorf("%s: %w", strings.Join(missing, ", "), dispatch.ErrNotConfigured)
		observability.NotificationsTotal.WithLabelValues("queue", string(OutcomeFailed)).Inc()
		log.Warn("notifyQueue.notConfigured", "targets", missing)
		q.writeStatus(ctx, log, c.DocID, models.Fields{"sentCount": 0, "processedAt": q.Now().UTC(), "status": "error", "error": err.Error()})
		return nil
	}

	first, err := q.Guard.ShouldProcess(ctx, c.EventID)
	if err != nil {
		return err
	}
	if !first {
		observability.GuardDuplicatesTotal.WithLabelValues(QueueGuardNamespace).Inc()
		log.Info("notifyQueue.duplicate")
		return nil
	}

	sent, errs := q.deliver(ctx, msg)

	update := models.Fields{"sentCount": sent, "processedAt": q.Now().UTC()}
	if len(errs) > 0 {
		update["status"] = "error"
		update["error"] = errors.Join(errs...).Error()
		observability.NotificationsTotal.WithLabelValues("queue", string(OutcomeFailed)).Inc()
		log.Warn("notifyQueue.failed", "sent", sent, "errors", len(errs))
	} else {
		update["status"] = "sent"
		observability.NotificationsTotal.WithLabelValues("queue", string(OutcomeDelivered)).Inc()
		log.Info("notifyQueue.sent", "sent", sent)
	}
	q.writeStatus(ctx, log, c.DocID, update)
	return nil
}

func (q *QueueProcessor) writeStatus(ctx context.Context, log *slog.Logger, id string, update models.Fields) {
	if err := q.Store.SetMerge(ctx, models.CollectionNotifyQueue, id, update); err != nil {
		log.Error("notifyQueue.statusUpdateFailed", "error", err)
	}
}

// unconfigured lists the target types in msg whose gateway is absent or
// reports missing credentials.
func (q *QueueProcessor) unconfigured(msg QueueMessage) []string {
	var missing []string
	seen := map[string]bool{}
	for _, t := range msg.Targets {
		if seen[t.Type] {
			continue
		}
		seen[t.Type] = true
		var ok bool
		switch t.Type {
		case "fcm":
			ok = ready(q.Push)
		case "sms":
			ok = ready(q.SMS)
		default:
			continue
		}
		if !ok {
			missing = append(missing, t.Type)
		}
	}
	return missing
}

func ready(gw any) bool {
	if gw == nil {
		return false
	}
	if c, ok := gw.(configurable); ok {
		return c.Configured()
	}
	return true
}

func (q *QueueProcessor) deliver(ctx context.Context, msg QueueMessage) (int, []error) {
	var (
		sent int
		errs []error
	)
	body := msg.Description
	for _, t := range msg.Targets {
		var err error
		switch t.Type {
		case "fcm":
			data := map[string]string{}
			if msg.Link != "" {
				data["link"] = msg.Link
			}
			_, err = q.Push.Push(ctx, t.To, dispatch.PushMessage{Title: msg.Title, Body: body, Data: data})
		case "sms":
			text := strings.TrimSpace(msg.Title + "\n" + body + "\n" + msg.Link)
			_, err = q.SMS.Send(ctx, t.To, text)
		default:
			q.Logger.Debug("notifyQueue.unsupportedTarget", "type", t.Type)
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", t.Type, t.To, err))
			continue
		}
		sent++
	}
	return sent, errs
}
