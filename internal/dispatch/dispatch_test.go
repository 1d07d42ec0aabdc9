package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwilioSMS_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.PostForm.Get("To"))
		assert.Equal(t, "+15559990000", r.PostForm.Get("From"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"sid": "SM1", "status": "queued"})
	}))
	defer srv.Close()

	sms := NewTwilioSMS("AC123", "secret", "+15559990000")
	sms.BaseURL = srv.URL
	rec, err := sms.Send(context.Background(), "+15550001111", "hello")
	require.NoError(t, err)
	assert.Equal(t, Receipt{ID: "SM1", Status: "queued"}, rec)
}

func TestTwilioSMS_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 21211, "message": "invalid To"})
	}))
	defer srv.Close()

	sms := NewTwilioSMS("AC123", "secret", "+15559990000")
	sms.BaseURL = srv.URL
	_, err := sms.Send(context.Background(), "+1", "hello")
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 21211, perr.Code)
}

func TestTwilioSMS_UnconfirmedSuccessIsAnError(t *testing.T) {
	for name, body := range map[string]string{
		"unreadable":  "<html>gateway</html>",
		"missing sid": `{"status":"queued"}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			sms := NewTwilioSMS("AC123", "secret", "+15559990000")
			sms.BaseURL = srv.URL
			_, err := sms.Send(context.Background(), "+15550001111", "hello")
			var perr *ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, http.StatusCreated, perr.StatusCode)
		})
	}
}

func TestTwilioSMS_NotConfigured(t *testing.T) {
	_, err := NewTwilioSMS("", "secret", "+1").Send(context.Background(), "+1", "x")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFCMDispatcher_Push(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body struct {
			Message struct {
				Token        string            `json:"token"`
				Notification map[string]string `json:"notification"`
			} `json:"message"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-1", body.Message.Token)
		assert.Equal(t, "New Rides Available", body.Message.Notification["title"])
		_ = json.NewEncoder(w).Encode(map[string]string{"name": "projects/p/messages/1"})
	}))
	defer srv.Close()

	rec, err := NewFCMDispatcher(srv.URL, "k").Push(context.Background(), "tok-1", PushMessage{Title: "New Rides Available", Body: "2 rides"})
	require.NoError(t, err)
	assert.Equal(t, "projects/p/messages/1", rec.ID)
}

type fakeConn struct {
	written []any
	err     error
	closed  bool
}

func (f *fakeConn) WriteJSON(v any) error {
	if f.err != nil {
		return f.err
	}
	f.written = append(f.written, v)
	return nil
}
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeConn) Close() error                     { f.closed = true; return nil }

type recordingPusher struct{ to []string }

func (r *recordingPusher) Push(ctx context.Context, to string, msg PushMessage) (Receipt, error) {
	r.to = append(r.to, to)
	return Receipt{ID: "fallback"}, nil
}

func TestPushDispatcher_PrefersLiveSession(t *testing.T) {
	ws := NewWSRegistry()
	conn := &fakeConn{}
	ws.add("driver@x.com", conn)
	fallback := &recordingPusher{}
	p := NewPushDispatcher(ws, fallback)

	rec, err := p.Push(context.Background(), "driver@x.com", PushMessage{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "delivered", rec.Status)
	assert.Len(t, conn.written, 1)
	assert.Empty(t, fallback.to)

	rec, err = p.Push(context.Background(), "tok-9", PushMessage{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "fallback", rec.ID)
	assert.Equal(t, []string{"tok-9"}, fallback.to)
}

func TestWSRegistry_DropsBrokenSession(t *testing.T) {
	ws := NewWSRegistry()
	ws.add("d", &fakeConn{err: errors.New("broken pipe")})
	_, err := ws.Push(context.Background(), "d", PushMessage{})
	require.Error(t, err)
	assert.False(t, ws.Has("d"))

	_, err = ws.Push(context.Background(), "d", PushMessage{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestWSRegistry_ReplacesSession(t *testing.T) {
	ws := NewWSRegistry()
	first := &fakeConn{}
	ws.add("d", first)
	second := &fakeConn{}
	ws.add("d", second)
	assert.True(t, first.closed)

	ws.release("d", first)
	assert.True(t, ws.Has("d"))
	ws.release("d", second)
	assert.False(t, ws.Has("d"))
}
