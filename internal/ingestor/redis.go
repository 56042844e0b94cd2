package ingestor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource delivers inferred location messages published on one Redis
// pub/sub channel.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisSource(addr, password string, db int, channel string, logger *slog.Logger) (*RedisSource, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisSource{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_source"),
	}, nil
}

// Messages subscribes to the channel. The returned channel closes when ctx is
// done or the subscription fails.
func (s *RedisSource) Messages(ctx context.Context) (<-chan *redis.Message, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Receive blocks until the subscription is confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed", "channel", s.channel)

	go func() {
		<-ctx.Done()
		if err := pubsub.Close(); err != nil {
			s.logger.Debug("closing subscription", "error", err)
		}
	}()

	return pubsub.Channel(), nil
}

// Publish sends one raw message to the channel.
func (s *RedisSource) Publish(ctx context.Context, payload []byte) error {
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", s.channel, err)
	}
	return nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
