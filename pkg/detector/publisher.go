package detector

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"changelens/pkg/windowing"
)

// Publisher mirrors monitor state into Redis for dashboards: the latest
// window under a key with TTL, plus pub/sub notifications on a channel.
// Publishing is best-effort; failures are logged and never affect detection.
type Publisher struct {
	rdb     *redis.Client
	prefix  string
	channel string
}

// NewPublisher wraps a Redis client. The prefix namespaces keys per
// monitoring session (typically the run ID).
func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	return &Publisher{
		rdb:     rdb,
		prefix:  prefix,
		channel: prefix + ":events",
	}
}

// PublishWindow stores the newest evaluated window. Safe on a nil receiver.
func (p *Publisher) PublishWindow(ctx context.Context, w windowing.Window) {
	if p == nil || p.rdb == nil {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, p.prefix+":latest_window", data, 10*time.Minute).Err(); err != nil {
		log.Printf("[publisher] window snapshot failed: %v", err)
	}
}

// PublishEvent broadcasts the final rollback decision. Safe on a nil
// receiver; uses a short detached timeout so the final event still goes out
// when the session context is already cancelled.
func (p *Publisher) PublishEvent(ctx context.Context, ev RollbackEvent) {
	if p == nil || p.rdb == nil {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := p.rdb.Set(ctx, p.prefix+":event", data, 24*time.Hour).Err(); err != nil {
		log.Printf("[publisher] event snapshot failed: %v", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		log.Printf("[publisher] event publish failed: %v", err)
	}
}
