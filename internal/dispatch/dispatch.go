package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned before any network call when a gateway lacks
// credentials. Callers treat it as a permanent, non-retryable condition.
var ErrNotConfigured = errors.New("messaging gateway not configured")

// Receipt identifies an accepted outbound message.
type Receipt struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Gateway sends a text message to a channel address (e.g. a phone number).
type Gateway interface {
	Send(ctx context.Context, to, body string) (Receipt, error)
}

// PushMessage is a notification rendered by the client app.
type PushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Pusher delivers a push notification to a device token or session key.
type Pusher interface {
	Push(ctx context.Context, to string, msg PushMessage) (Receipt, error)
}

// ProviderError carries a non-2xx response from a messaging provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Code       int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: status %d code %d: %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
