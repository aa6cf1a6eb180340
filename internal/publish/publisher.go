package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"albion-flipper/internal/engine"
	"albion-flipper/internal/logger"
	"albion-flipper/internal/refresh"
)

// StreamAdder is the subset of *redis.Client the publisher needs.
type StreamAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Message is the JSON payload of one stream entry.
type Message struct {
	SnapshotID string              `json:"snapshot_id"`
	BuiltAt    time.Time           `json:"built_at"`
	Flips      []engine.FlipResult `json:"flips"`
}

// StreamPublisher publishes the global flip ranking of each snapshot to a Redis stream.
type StreamPublisher struct {
	client StreamAdder
	stream string
	topN   int
	maxLen int64
}

// NewStreamPublisher creates a publisher writing at most topN flips per entry
// (all when topN <= 0) to stream.
func NewStreamPublisher(client StreamAdder, stream string, topN int) *StreamPublisher {
	if stream == "" {
		stream = "albion:flips"
	}
	return &StreamPublisher{client: client, stream: stream, topN: topN, maxLen: 1000}
}

// Connect parses url, pings the server and returns the client with a publisher on top.
func Connect(ctx context.Context, url, stream string, topN int) (*StreamPublisher, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewStreamPublisher(client, stream, topN), client, nil
}

// BuildMessage extracts the publishable part of a snapshot.
func BuildMessage(snap *refresh.Snapshot, topN int) Message {
	flips := snap.Report.TopGlobal
	if topN > 0 && len(flips) > topN {
		flips = flips[:topN]
	}
	if flips == nil {
		flips = []engine.FlipResult{}
	}
	return Message{SnapshotID: snap.ID, BuiltAt: snap.BuiltAt, Flips: flips}
}

// Publish appends one entry for snap. The stream is trimmed to roughly maxLen entries.
func (p *StreamPublisher) Publish(ctx context.Context, snap *refresh.Snapshot) error {
	msg := BuildMessage(snap, p.topN)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling flips: %w", err)
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"snapshot_id": msg.SnapshotID,
			"count":       len(msg.Flips),
			"data":        string(data),
		},
	}).Err()
}

// Hook adapts Publish to a refresh hook; failures are logged, not returned.
func (p *StreamPublisher) Hook() refresh.Hook {
	return func(ctx context.Context, snap *refresh.Snapshot) {
		if err := p.Publish(ctx, snap); err != nil {
			logger.Warn("PUBLISH", fmt.Sprintf("XAdd %s failed: %v", p.stream, err))
		}
	}
}
