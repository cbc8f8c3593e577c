// Package client is a WebSocket client for the realtime hub that reconnects
// with exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"mobilecontrol/models"
)

const maxReconnectAttempts = 5

// ReconnectBackOff yields 1s, 2s, 4s, 8s, 16s and then backoff.Stop.
func ReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 16 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, maxReconnectAttempts)
}

// Client subscribes to hub events and hands them to a callback.
type Client struct {
	url           string
	token         string
	subscriptions []string
	dialer        *websocket.Dialer
	newBackOff    func() backoff.BackOff
	wait          func(ctx context.Context, d time.Duration) error
}

func New(url, token string, subscriptions ...string) *Client {
	return &Client{
		url:           url,
		token:         token,
		subscriptions: subscriptions,
		dialer:        websocket.DefaultDialer,
		newBackOff:    ReconnectBackOff,
		wait:          sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrGaveUp is returned by Run once the reconnect attempts are exhausted.
var ErrGaveUp = errors.New("gave up reconnecting")

// Run connects and delivers events until ctx is cancelled or reconnecting
// fails. The attempt counter resets after every successful connection.
func (c *Client) Run(ctx context.Context, handle func(models.Event)) error {
	b := c.newBackOff()
	for {
		connected, err := c.session(ctx, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return fmt.Errorf("%w: %v", ErrGaveUp, err)
		}
		log.WithField("url", c.url).Warnf("Connection lost (%v), reconnecting in %v", err, delay)
		if err := c.wait(ctx, delay); err != nil {
			return err
		}
	}
}

// session runs one connection. connected reports whether the dial succeeded.
func (c *Client) session(ctx context.Context, handle func(models.Event)) (connected bool, err error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, sub := range c.subscriptions {
		msg := models.ClientMessage{Type: "subscribe", Payload: map[string]interface{}{"type": sub}}
		if err := conn.WriteJSON(msg); err != nil {
			return true, err
		}
	}
	log.WithField("url", c.url).Info("Connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var event models.Event
		if err := json.Unmarshal(data, &event); err != nil {
			log.Warnf("Ignoring malformed event: %v", err)
			continue
		}
		handle(event)
	}
}
