package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingWaker struct{ ch chan struct{} }

func newCountingWaker() *countingWaker { return &countingWaker{ch: make(chan struct{}, 16)} }

func (w *countingWaker) Wake() { w.ch <- struct{}{} }

func (w *countingWaker) waitForWake(t *testing.T) {
	t.Helper()
	select {
	case <-w.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a wake")
	}
}

func TestSubscriber_WakesOnTargetActivity(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeRequest, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var req subscribeRequest
		require.NoError(t, conn.ReadJSON(&req))
		subscribed <- req

		// Ack plus an irrelevant frame, then real activity.
		require.NoError(t, conn.WriteJSON(map[string]string{"channel": "subscriptionResponse"}))
		require.NoError(t, conn.WriteJSON(map[string]string{"channel": "pong"}))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"webData2","data":{}}`)))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	waker := newCountingWaker()
	sub := New(Config{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		TargetAddress: "0xtarget",
	}, waker, zerolog.New(os.Stderr).Level(zerolog.Disabled))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	req := <-subscribed
	assert.Equal(t, "subscribe", req.Method)
	assert.Equal(t, "webData2", req.Subscription.Type)
	assert.Equal(t, "0xtarget", req.Subscription.User)

	waker.waitForWake(t)
	assert.Empty(t, waker.ch, "ack and pong frames must not wake the loop")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop on cancellation")
	}
}

func TestSubscriber_ReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	sessions := make(chan struct{}, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessions <- struct{}{}

		var req subscribeRequest
		_ = conn.ReadJSON(&req)
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"webData2"}`))
		conn.Close() // drop the session immediately after one frame
	}))
	defer srv.Close()

	waker := newCountingWaker()
	sub := New(Config{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		TargetAddress: "0xtarget",
		MaxBackoff:    50 * time.Millisecond,
	}, waker, zerolog.New(os.Stderr).Level(zerolog.Disabled))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = sub.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-sessions:
		case <-ctx.Done():
			t.Fatal("subscriber did not reconnect")
		}
	}
	waker.waitForWake(t)
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	assert.Equal(t, MainnetWSURL, cfg.URL)
	assert.Equal(t, 60*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
}
