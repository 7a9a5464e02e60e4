// Package broadcast fans accepted telemetry out to live subscribers.
// Delivery is fire-and-forget: dashboards tolerate a missed update, and
// a slow or unavailable broker must never back-pressure ingestion.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	v1 "github.com/kilnworks/tilemetry/internal/api/v1"
)

// Sink publishes one payload to a set of rooms. Implementations must be
// safe for concurrent use.
type Sink interface {
	Publish(ctx context.Context, rooms []string, payload *v1.BroadcastPayload) error
}

// DeviceRoom, LineRoom and PositionRoom name the channels one update is
// published to. A subscriber picks the scope it cares about.
func DeviceRoom(deviceID string) string { return "device:" + deviceID }

func LineRoom(lineID int64) string { return fmt.Sprintf("line:%d", lineID) }

func PositionRoom(positionID int64) string { return fmt.Sprintf("position:%d", positionID) }

// RedisSink publishes updates over Redis pub/sub, one channel per room.
type RedisSink struct {
	client *goredis.Client
	prefix string
}

// NewRedisSink wraps an existing client. The prefix namespaces channels
// alongside the lock and ordering keys on a shared Redis.
func NewRedisSink(client *goredis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "tilemetry:"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Publish sends the payload to every room. Individual publish failures
// are logged and skipped; the first error is returned for visibility
// but callers are expected to ignore it.
func (s *RedisSink) Publish(ctx context.Context, rooms []string, payload *v1.BroadcastPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal broadcast payload: %w", err)
	}

	var firstErr error
	for _, room := range rooms {
		if err := s.client.Publish(ctx, s.prefix+room, body).Err(); err != nil {
			slog.Warn("[Broadcast] Publish failed",
				"room", room,
				"device_id", payload.DeviceID,
				"error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("publish to %s: %w", room, err)
			}
		}
	}
	return firstErr
}

// NopSink discards every payload. Used when broadcasting is disabled.
type NopSink struct{}

func (NopSink) Publish(context.Context, []string, *v1.BroadcastPayload) error { return nil }
