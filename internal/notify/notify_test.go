package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go-config-runner/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookPostsJSON(t *testing.T) {
	var got notify.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := notify.NewWebhook(srv.URL, 10)
	err := w.Send(context.Background(), notify.Notification{Title: "hits", Message: "5 hits", JobID: "j1"})
	require.NoError(t, err)
	assert.Equal(t, "5 hits", got.Message)
	assert.Equal(t, "j1", got.JobID)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := notify.NewWebhook(srv.URL, 10).Send(context.Background(), notify.Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookRateLimitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	w := notify.NewWebhook(srv.URL, 0.01)
	require.NoError(t, w.Send(context.Background(), notify.Notification{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, w.Send(ctx, notify.Notification{}))
	assert.Equal(t, int32(1), calls.Load())
}

type fakeNotifier struct {
	err  error
	sent int
}

func (f *fakeNotifier) Send(ctx context.Context, n notify.Notification) error {
	f.sent++
	return f.err
}

func TestMultiAggregatesErrors(t *testing.T) {
	a := &fakeNotifier{err: errors.New("a down")}
	b := &fakeNotifier{}
	c := &fakeNotifier{err: errors.New("c down")}

	err := notify.Multi{a, b, c}.Send(context.Background(), notify.Notification{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Contains(t, err.Error(), "c down")
	assert.Equal(t, 1, a.sent)
	assert.Equal(t, 1, b.sent)
	assert.Equal(t, 1, c.sent)

	require.NoError(t, notify.Multi{b}.Send(context.Background(), notify.Notification{}))
	require.NoError(t, notify.Nop{}.Send(context.Background(), notify.Notification{}))
}

func TestRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	err := notify.NewRedis(client, "runner:events").Send(context.Background(), notify.Notification{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XADD failed")
}
