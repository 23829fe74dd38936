// Package notify publishes recomputed deployment totals to Redis Pub/Sub subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/types"
	"github.com/eggfarm/tvl/internal/utils"
)

// TotalValueMessage is the JSON payload published for one deployment.
type TotalValueMessage struct {
	Deployment       types.Deployment   `json:"deployment"`
	Farms            string             `json:"farms"`
	Pools            string             `json:"pools"`
	Total            string             `json:"total"`
	TotalDisplay     string             `json:"total_display"`
	UnknownPositions []types.PositionID `json:"unknown_positions"`
	Generation       uint64             `json:"generation"`
	Stale            bool               `json:"stale"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// NewTotalValueMessage builds the payload of tv.
func NewTotalValueMessage(tv types.TotalValue) TotalValueMessage {
	return TotalValueMessage{
		Deployment:       tv.Deployment,
		Farms:            tv.Farms.String(),
		Pools:            tv.Pools.String(),
		Total:            tv.Total.String(),
		TotalDisplay:     utils.FormatUSD(tv.Total),
		UnknownPositions: tv.UnknownPositions,
		Generation:       tv.Generation,
		Stale:            tv.Stale,
		UpdatedAt:        tv.UpdatedAt,
	}
}

// RedisNotifier publishes totals on one channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisNotifier connects to addr and verifies the connection.
func NewRedisNotifier(ctx context.Context, addr, password, channel string) (*RedisNotifier, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,

		PoolSize:     4,
		MinIdleConns: 1,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	l := logger.GetForComponent("redis_notifier")
	l.Info().Str("addr", addr).Str("channel", channel).Msg("Connected to Redis")

	return &RedisNotifier{client: rdb, channel: channel, logger: l}, nil
}

// PublishTotals publishes one message per total. It stops at the first failure.
func (n *RedisNotifier) PublishTotals(ctx context.Context, totals []types.TotalValue) error {
	for _, tv := range totals {
		payload, err := json.Marshal(NewTotalValueMessage(tv))
		if err != nil {
			return fmt.Errorf("marshal %s total: %w", tv.Deployment, err)
		}
		if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s total on %s: %w", tv.Deployment, n.channel, err)
		}
	}
	n.logger.Debug().Int("messages", len(totals)).Msg("Published total values")
	return nil
}

// Health pings Redis.
func (n *RedisNotifier) Health(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
