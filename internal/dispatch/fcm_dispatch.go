package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// FCMDispatcher posts JSON to the FCM HTTP v1 send endpoint using a bearer key.
type FCMDispatcher struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMDispatcher(endpoint, key string) *FCMDispatcher {
	return &FCMDispatcher{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMDispatcher) Push(ctx context.Context, token string, msg PushMessage) (Receipt, error) {
	if f == nil || f.Endpoint == "" || f.Key == "" {
		return Receipt{}, ErrNotConfigured
	}
	body := map[string]any{"message": map[string]any{
		"token":        token,
		"notification": map[string]string{"title": msg.Title, "body": msg.Body},
		"data":         msg.Data,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return Receipt{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.Key)

	resp, err := f.Client.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("fcm: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Name  string `json:"name"`
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode >= 300 {
		return Receipt{}, &ProviderError{Provider: "fcm", StatusCode: resp.StatusCode, Code: out.Error.Code, Message: out.Error.Message}
	}
	return Receipt{ID: out.Name, Status: "sent"}, nil
}
