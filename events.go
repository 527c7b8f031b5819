package main

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamSignups  = "appbase:signups"
	streamPayments = "appbase:payments"

	consumerGroup = "appbase-workers"
)

// SignupEvent is published when a new account is created.
type SignupEvent struct {
	UserID    int64  `json:"user_id"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

// PaymentEvent is published when a payment webhook reports a finished payment.
type PaymentEvent struct {
	UserID    int64   `json:"user_id"`
	PaymentID int64   `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Timestamp int64   `json:"timestamp"`
}

// Dispatcher publishes events to Redis streams. A nil Dispatcher drops
// events, so the server runs fine without Redis configured.
type Dispatcher struct {
	rdb *redis.Client
}

func NewDispatcher(rdb *redis.Client) *Dispatcher {
	return &Dispatcher{rdb: rdb}
}

func (d *Dispatcher) Dispatch(ctx context.Context, stream string, event interface{}) {
	if d == nil || d.rdb == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("encode event payload")
		return
	}
	err = d.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"payload": payload},
	}).Err()
	if err != nil {
		logger.WithError(err).WithField("stream", stream).Error("dispatch event")
	}
}

// Consumer reads a stream through a consumer group and hands decoded
// payloads to the handler.
type Consumer struct {
	rdb     *redis.Client
	stream  string
	group   string
	name    string
	handler func(stream string, payload []byte)
}

func NewConsumer(rdb *redis.Client, stream string, handler func(stream string, payload []byte)) *Consumer {
	return &Consumer{
		rdb:     rdb,
		stream:  stream,
		group:   consumerGroup,
		name:    "worker-1",
		handler: handler,
	}
}

// Run blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	// Create consumer group; BUSYGROUP just means it already exists
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		logger.WithError(err).WithField("stream", c.stream).Error("create consumer group")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logger.WithError(err).WithField("stream", c.stream).Warn("read stream")
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				if err := c.rdb.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
					logger.WithError(err).Warn("ack message")
				}
				if payload, ok := msg.Values["payload"].(string); ok {
					c.handler(stream.Stream, []byte(payload))
				}
			}
		}
	}
}

func newRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return rdb, nil
}
