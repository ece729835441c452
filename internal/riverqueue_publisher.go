package internal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
)

// forwardJobArgs is the job payload: the topic a rule emitted plus the
// forwarded event. kind names the job type consumers register their worker
// under; each publisher stamps its own configured kind so two publishers
// with different kinds do not interfere.
type forwardJobArgs struct {
	Topic string `json:"topic"`
	Event Event  `json:"event"`
	kind  string
}

func (a forwardJobArgs) Kind() string { return a.kind }

// riverQueuePublisher enqueues accepted events as River jobs so an
// out-of-process worker pool can pick them up.
type riverQueuePublisher struct {
	pool   *pgxpool.Pool
	client *river.Client[pgx.Tx]
	cfg    RiverQueueConfig
	kind   string
}

func newRiverQueuePublisher(cfg RiverQueueConfig) (Publisher, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("riverqueue dsn is required")
	}
	pool, err := pgxpool.New(context.Background(), cfg.DSN)
	if err != nil {
		return nil, err
	}
	kind := cfg.Kind
	if kind == "" {
		kind = "hookpulse.event"
	}
	// Insert-only client: no workers or queues run in this process.
	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{})
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &riverQueuePublisher{pool: pool, client: client, cfg: cfg, kind: kind}, nil
}

func (p *riverQueuePublisher) Publish(ctx context.Context, topic string, event Event) error {
	_, err := p.client.Insert(ctx, forwardJobArgs{Topic: topic, Event: event, kind: p.kind}, &river.InsertOpts{
		Queue:       p.cfg.Queue,
		MaxAttempts: p.cfg.MaxAttempts,
		Priority:    p.cfg.Priority,
		Tags:        p.cfg.Tags,
	})
	return err
}

func (p *riverQueuePublisher) PublishForDrivers(ctx context.Context, topic string, event Event, drivers []string) error {
	return p.Publish(ctx, topic, event)
}

func (p *riverQueuePublisher) Close() error {
	p.pool.Close()
	return nil
}
