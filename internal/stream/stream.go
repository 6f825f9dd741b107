// Package stream subscribes to the exchange websocket feed for the
// target address and nudges the replication loop when activity shows
// up, so copies land faster than the poll interval alone allows. The
// feed is an accelerator only: polling remains the source of truth and
// the engine is fully functional with the stream disabled.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MainnetWSURL is the production websocket endpoint.
const MainnetWSURL = "wss://api.hyperliquid.xyz/ws"

// Waker receives the nudge; the mirror controller implements it.
type Waker interface {
	Wake()
}

// Config tunes the subscriber.
type Config struct {
	URL           string
	TargetAddress string
	ReadTimeout   time.Duration
	PingInterval  time.Duration
	MaxBackoff    time.Duration
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = MainnetWSURL
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// Subscriber maintains one websocket session at a time, reconnecting
// with capped exponential backoff.
type Subscriber struct {
	cfg   Config
	waker Waker
	log   zerolog.Logger
}

func New(cfg Config, waker Waker, log zerolog.Logger) *Subscriber {
	cfg.applyDefaults()
	return &Subscriber{
		cfg:   cfg,
		waker: waker,
		log:   log.With().Str("component", "stream").Logger(),
	}
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription subscription `json:"subscription"`
}

type subscription struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type feedMessage struct {
	Channel string `json:"channel"`
}

// Run dials and reads until ctx is cancelled. Session errors are
// logged and retried; Run only returns on cancellation.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("websocket session ended, reconnecting")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

func (s *Subscriber) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := subscribeRequest{
		Method:       "subscribe",
		Subscription: subscription{Type: "webData2", User: s.cfg.TargetAddress},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	s.log.Info().Str("target", s.cfg.TargetAddress).Msg("subscribed to target activity feed")

	// Close the connection when ctx ends so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var fm feedMessage
		if err := json.Unmarshal(msg, &fm); err != nil {
			s.log.Debug().Err(err).Msg("unparseable feed message skipped")
			continue
		}
		if fm.Channel != "webData2" {
			continue
		}
		s.log.Debug().Msg("target activity observed, waking replication loop")
		s.waker.Wake()
	}
}
