package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amoylab/hostlink/internal/common/config"
	"github.com/amoylab/hostlink/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// streamMaxLen caps the delivery stream; the worker consumes well ahead of it
const streamMaxLen = 10000

// RedisNotifier appends notifications to a Redis stream read by the delivery worker
type RedisNotifier struct {
	logger     *zap.Logger
	client     redis.UniversalClient
	streamName string
}

// NewRedisNotifier connects to Redis and checks the connection
func NewRedisNotifier(logger *zap.Logger, cfg *config.RedisConfig, streamName string) (*RedisNotifier, error) {
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    utils.SplitByMultipleDelimiters(cfg.Addr, ";", ","),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisNotifier{
		logger:     logger.Named("notifier.redis"),
		client:     client,
		streamName: streamName,
	}, nil
}

func (r *RedisNotifier) Notify(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.streamName,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":         string(msg.Kind),
			"user":         msg.UserID,
			"notification": string(data),
			"timestamp":    msg.CreatedAt.Unix(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add notification to stream: %w", err)
	}

	r.logger.Debug("notification queued", zap.String("messageID", id), zap.String("user", msg.UserID))
	return nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}
