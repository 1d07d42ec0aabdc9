package dispatch

import (
	"context"
	"errors"
)

// PushDispatcher tries a live WebSocket session first and falls back to the
// provider push gateway.
type PushDispatcher struct {
	WS       *WSRegistry
	Fallback Pusher
}

func NewPushDispatcher(ws *WSRegistry, fallback Pusher) *PushDispatcher {
	return &PushDispatcher{WS: ws, Fallback: fallback}
}

func (p *PushDispatcher) Push(ctx context.Context, to string, msg PushMessage) (Receipt, error) {
	if p.WS != nil {
		rec, err := p.WS.Push(ctx, to, msg)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNoSession) && p.Fallback == nil {
			return Receipt{}, err
		}
	}
	if p.Fallback == nil {
		return Receipt{}, ErrNotConfigured
	}
	return p.Fallback.Push(ctx, to, msg)
}
