package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pocketcode/chatcore/internal/conversation"
	"github.com/pocketcode/chatcore/internal/metrics"
)

// DefaultReconnectDelay is the wait between re-subscriptions when Client.Backoff is nil.
const DefaultReconnectDelay = 3 * time.Second

// Client keeps a Sink subscribed to a Source. On a failure it reports a session-level error and re-subscribes; already applied state is kept, nothing is
// replayed.
type Client struct {
	Source    Source
	Sink      Sink
	SessionID string

	Backoff backoff.BackOff  // nil: constant DefaultReconnectDelay
	Logger  *slog.Logger     // nil discards
	Metrics *metrics.Metrics // nil records nothing
}

// Run subscribes until ctx is done or the backoff gives up. It returns ctx.Err() after cancellation, otherwise the last subscription error.
func (c *Client) Run(ctx context.Context) error {
	log := c.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	bo := c.Backoff
	if bo == nil {
		bo = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	bo.Reset()

	for {
		c.Sink.SetConnection(conversation.Connecting)
		err := c.subscribe(ctx, bo, log)
		c.Sink.SetConnection(conversation.Disconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.Metrics.TransportError(c.Source.Name())
		c.Sink.ReportTransportError(err)
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			log.Error("event stream stopped", "source", c.Source.Name(), "err", err)
			return err
		}
		log.Warn("event stream failed; reconnecting", "source", c.Source.Name(), "err", err, "wait", wait)

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		c.Metrics.Reconnect()
	}
}

// subscribe runs one subscription to completion. It always returns a non-nil error.
func (c *Client) subscribe(ctx context.Context, bo backoff.BackOff, log *slog.Logger) error {
	stream, err := c.Source.Open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	c.Sink.SetConnection(conversation.Connected)
	bo.Reset()
	log.Info("event stream connected", "source", c.Source.Name(), "session", c.SessionID)

	for stream.Next() {
		in, err := Decode(stream.Data())
		if err != nil {
			// A bad event is reported but does not end the subscription.
			log.Warn("decode event", "err", err)
			c.Sink.ReportTransportError(err)
			continue
		}
		if err := Dispatch(ctx, c.Sink, c.SessionID, in); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("dispatch event", "type", in.EventType(), "err", err)
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("transport: %s: %w", c.Source.Name(), err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrStreamEnded
}
