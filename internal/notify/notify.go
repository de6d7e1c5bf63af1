// Package notify delivers fire-and-forget realtime events such as
// "fileUploaded" to subscribers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Event names.
const (
	EventFileUploaded = "fileUploaded"
)

// Sink receives events. Emit never blocks and never fails.
type Sink interface {
	Emit(event string, payload any)
}

// Nop discards every event.
type Nop struct{}

// Emit does nothing.
func (Nop) Emit(string, any) {}

// Message is the JSON document published for each event.
type Message struct {
	Event     string    `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisSink publishes events on Redis pub/sub channels named "<prefix>:<event>".
type RedisSink struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRedisSink creates a RedisSink. A zero timeout defaults to two seconds.
func NewRedisSink(client redis.UniversalClient, prefix string, timeout time.Duration, logger zerolog.Logger) *RedisSink {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisSink{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Channel returns the channel an event is published on.
func (s *RedisSink) Channel(event string) string {
	return s.prefix + ":" + event
}

// Emit publishes the event in the background. Failures are logged.
func (s *RedisSink) Emit(event string, payload any) {
	body, err := json.Marshal(Message{Event: event, Payload: payload, Timestamp: time.Now().UTC()})
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("failed to encode event")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.client.Publish(ctx, s.Channel(event), body).Err(); err != nil {
			s.logger.Warn().Err(err).Str("event", event).Msg("failed to publish event")
			return
		}
		s.logger.Debug().Str("event", event).Msg("event published")
	}()
}

var (
	_ Sink = Nop{}
	_ Sink = (*RedisSink)(nil)
)
