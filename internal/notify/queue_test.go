package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

type fakePusher struct {
	to   []string
	msgs []dispatch.PushMessage
	fail map[string]bool
}

func (p *fakePusher) Push(ctx context.Context, to string, msg dispatch.PushMessage) (dispatch.Receipt, error) {
	if p.fail[to] {
		return dispatch.Receipt{}, errors.New("unregistered token")
	}
	p.to = append(p.to, to)
	p.msgs = append(p.msgs, msg)
	return dispatch.Receipt{ID: "m"}, nil
}

func queueDoc() models.Fields {
	return models.Fields{
		"targets": []any{
			map[string]any{"type": "fcm", "to": "tok-1"},
			map[string]any{"type": "fcm", "to": "tok-1"},
			map[string]any{"type": "sms", "to": "+1555"},
			map[string]any{"type": "email", "to": "a@b.c"},
			map[string]any{"to": "missing-type"},
		},
		"context": map[string]any{
			"ticket": map[string]any{"title": "New Rides Available", "description": "3 ride(s) available to claim"},
			"link":   "/",
		},
		"status": "pending",
	}
}

func TestParseQueueMessage(t *testing.T) {
	m := ParseQueueMessage(queueDoc())
	assert.Equal(t, []Target{{"fcm", "tok-1"}, {"sms", "+1555"}, {"email", "a@b.c"}}, m.Targets)
	assert.Equal(t, "New Rides Available", m.Title)
	assert.Equal(t, "3 ride(s) available to claim", m.Description)
	assert.Equal(t, "/", m.Link)

	empty := ParseQueueMessage(models.Fields{})
	assert.Empty(t, empty.Targets)
	assert.Equal(t, "Notification", empty.Title)
}

func newQueue(mem *storage.MemoryStore, push dispatch.Pusher, sms dispatch.Gateway) *QueueProcessor {
	return NewQueueProcessor(mem, NewStoreGuard(mem, QueueGuardNamespace), push, sms, quietLogger())
}

func TestQueueProcessor_DeliversAndMarksSent(t *testing.T) {
	mem := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.Create(ctx, models.CollectionNotifyQueue, "n1", queueDoc()))
	push, sms := &fakePusher{}, &fakeGateway{}
	q := newQueue(mem, push, sms)

	change := models.Change{EventID: "e1", Kind: models.ChangeCreate, Collection: models.CollectionNotifyQueue, DocID: "n1", After: queueDoc()}
	require.NoError(t, q.HandleCreated(ctx, change))
	require.NoError(t, q.HandleCreated(ctx, change))

	assert.Equal(t, []string{"tok-1"}, push.to)
	assert.Equal(t, "/", push.msgs[0].Data["link"])
	require.Len(t, sms.sent, 1)
	assert.Equal(t, "New Rides Available\n3 ride(s) available to claim\n/", sms.sent[0].body)

	doc, err := mem.Get(ctx, models.CollectionNotifyQueue, "n1")
	require.NoError(t, err)
	assert.Equal(t, "sent", doc.Fields["status"])
	assert.Equal(t, 2, doc.Fields["sentCount"])
}

func TestQueueProcessor_RecordsErrors(t *testing.T) {
	mem := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.Create(ctx, models.CollectionNotifyQueue, "n1", queueDoc()))
	sms := &fakeGateway{err: errors.New("invalid To")}
	q := newQueue(mem, &fakePusher{fail: map[string]bool{"tok-1": true}}, sms)

	err := q.HandleCreated(ctx, models.Change{EventID: "e1", DocID: "n1", After: queueDoc()})
	require.NoError(t, err)

	doc, err := mem.Get(ctx, models.CollectionNotifyQueue, "n1")
	require.NoError(t, err)
	assert.Equal(t, "error", doc.Fields["status"])
	assert.Contains(t, doc.Fields["error"], "unregistered token")
	assert.Contains(t, doc.Fields["error"], "invalid To")
	assert.Equal(t, 0, doc.Fields["sentCount"])
	assert.Equal(t, 1, mem.Len(queueMarkers))
}

const queueMarkers = models.CollectionEventMarkers + "/" + QueueGuardNamespace

func TestQueueProcessor_UnconfiguredGatewayKeepsEventRetryable(t *testing.T) {
	mem := storage.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.Create(ctx, models.CollectionNotifyQueue, "n1", queueDoc()))
	push := &fakePusher{}
	change := models.Change{EventID: "e1", DocID: "n1", After: queueDoc()}

	q := newQueue(mem, push, dispatch.NewTwilioSMS("", "", ""))
	require.NoError(t, q.HandleCreated(ctx, change))

	doc, err := mem.Get(ctx, models.CollectionNotifyQueue, "n1")
	require.NoError(t, err)
	assert.Equal(t, "error", doc.Fields["status"])
	assert.Contains(t, doc.Fields["error"], "sms")
	assert.Contains(t, doc.Fields["error"], dispatch.ErrNotConfigured.Error())
	assert.Empty(t, push.to)
	assert.Zero(t, mem.Len(queueMarkers))

	sms := &fakeGateway{}
	q.SMS = sms
	require.NoError(t, q.HandleCreated(ctx, change))

	doc, err = mem.Get(ctx, models.CollectionNotifyQueue, "n1")
	require.NoError(t, err)
	assert.Equal(t, "sent", doc.Fields["status"])
	assert.Equal(t, []string{"tok-1"}, push.to)
	assert.Len(t, sms.sent, 1)
}
