// internal/changefeed/redis.go
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gostock/internal/dashboard"
)

const DefaultChannel = "gostock:changes"

// Change announces that the inventory event log moved past Cursor.
type Change struct {
	Cursor int64     `json:"cursor"`
	At     time.Time `json:"at"`
}

// Publisher relays event log changes from the inventory service to
// dashboards that cannot read the log directly.
type Publisher struct {
	client  *redis.Client
	channel string
}

func NewPublisher(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel}
}

// Publish announces a change. It matches eventstore.NotifyFunc.
func (p *Publisher) Publish(ctx context.Context, cursor int64) error {
	payload, err := json.Marshal(Change{Cursor: cursor, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Invalidator receives post-mutation refresh requests.
type Invalidator interface {
	Invalidate(mode dashboard.Mode) <-chan error
}

// Subscriber turns announced changes into silent invalidations.
type Subscriber struct {
	client      *redis.Client
	channel     string
	invalidator Invalidator
	logger      zerolog.Logger
}

func NewSubscriber(client *redis.Client, channel string, invalidator Invalidator, logger zerolog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Subscriber{
		client:      client,
		channel:     channel,
		invalidator: invalidator,
		logger:      logger.With().Str("component", "changefeed").Logger(),
	}
}

// Run listens until ctx is done. Undecodable messages are logged and
// skipped; every change is treated alike, so the payload only feeds logs.
func (s *Subscriber) Run(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				s.logger.Warn().Err(err).Str("payload", msg.Payload).Msg("ignoring malformed change")
				continue
			}
			s.logger.Debug().Int64("cursor", change.Cursor).Msg("change announced")
			s.invalidator.Invalidate(dashboard.ModeSilent)
		}
	}
}
