package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/clubops/membersync/common/logger"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Stream names. Webhook jobs are latency-sensitive and live on their own
// stream, which the consumer drains before bulk work.
const (
	StreamWebhook = "sync.jobs.webhook"
	StreamBulk    = "sync.jobs.bulk"

	consumerGroup = "sync_workers"

	// A pending entry idle past this is presumed orphaned by a crashed
	// consumer and gets reclaimed. Must exceed the job timeout, or a
	// slow live job could be reclaimed out from under its consumer.
	reclaimMinIdle = 5 * time.Minute

	// How often the consumer sweeps for stale pending entries
	reclaimInterval = time.Minute
)

// Handler processes one dequeued job payload
type Handler func(ctx context.Context, stream string, payload []byte) error

// streamClient is the Redis surface the queue needs
type streamClient interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
	ReadFromStreamGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]goredis.XStream, error)
	ClaimStaleMessages(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]goredis.XMessage, error)
	AckStreamMessage(ctx context.Context, stream, group, messageID string) error
	CreateStreamGroup(ctx context.Context, stream, group string) error
	PendingStreamCount(ctx context.Context, stream, group string) (int64, error)
}

// Queue is a durable job queue backed by Redis streams. Jobs are
// persisted before execution, so an interrupted job stays pending and is
// redelivered to the consumer group: the consumer reclaims entries
// stranded in a dead consumer's pending list before reading new ones.
type Queue struct {
	redis        streamClient
	log          *logger.Logger
	consumerName string
	lastReclaim  time.Time
}

// New creates a queue and its consumer groups
func New(ctx context.Context, redisClient streamClient, log *logger.Logger) (*Queue, error) {
	q := &Queue{
		redis:        redisClient,
		log:          log,
		consumerName: fmt.Sprintf("sync_worker_%s", uuid.New().String()[:8]),
	}

	for _, stream := range []string{StreamWebhook, StreamBulk} {
		if err := redisClient.CreateStreamGroup(ctx, stream, consumerGroup); err != nil {
			return nil, fmt.Errorf("create consumer group for %s: %w", stream, err)
		}
	}

	return q, nil
}

// Enqueue persists a job payload to the given stream and returns the
// stream message id.
func (q *Queue) Enqueue(ctx context.Context, stream string, payload []byte) (string, error) {
	id, err := q.redis.AddToStream(ctx, stream, map[string]interface{}{
		"job": string(payload),
	})
	if err != nil {
		return "", fmt.Errorf("enqueue to %s: %w", stream, err)
	}

	q.log.Debug("job enqueued", "stream", stream, "message_id", id)
	return id, nil
}

// Consume reads jobs until ctx is cancelled. The webhook stream is
// listed first so pending webhook jobs preempt queued bulk work. A
// handler error is logged and the message is still acknowledged; the
// handler owns recording the failure in the operation ledger.
func (q *Queue) Consume(ctx context.Context, handler Handler) error {
	q.log.Info("job consumer starting",
		"consumer_group", consumerGroup,
		"consumer_name", q.consumerName)

	streams := []string{StreamWebhook, StreamBulk}

	for {
		select {
		case <-ctx.Done():
			q.log.Info("job consumer stopping")
			return nil
		default:
			// Periodic sweep for entries orphaned by crashed consumers.
			// lastReclaim starts zero, so the first sweep runs before
			// the first read.
			if time.Since(q.lastReclaim) >= reclaimInterval {
				q.reclaimStale(ctx, streams, handler)
				q.lastReclaim = time.Now()
			}

			if err := q.processNext(ctx, streams, handler); err != nil {
				q.log.Error("failed to read jobs", "error", err)
				time.Sleep(time.Second) // Back off on error
			}
		}
	}
}

// reclaimStale takes over pending entries idle past the threshold and
// runs them through the handler. Reclaim failures are logged and left
// for the next sweep.
func (q *Queue) reclaimStale(ctx context.Context, streams []string, handler Handler) {
	for _, stream := range streams {
		messages, err := q.redis.ClaimStaleMessages(ctx, stream, consumerGroup, q.consumerName, reclaimMinIdle, 10)
		if err != nil {
			q.log.Error("failed to reclaim stale jobs", "stream", stream, "error", err)
			continue
		}

		for _, message := range messages {
			q.log.Warn("reprocessing stale job",
				"stream", stream,
				"message_id", message.ID)
			q.handle(ctx, stream, message, handler)
		}
	}
}

// processNext reads and handles one batch of messages
func (q *Queue) processNext(ctx context.Context, streams []string, handler Handler) error {
	result, err := q.redis.ReadFromStreamGroup(ctx, consumerGroup, q.consumerName, streams, 1, 5*time.Second)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for _, stream := range result {
		for _, message := range stream.Messages {
			q.handle(ctx, stream.Stream, message, handler)
		}
	}

	return nil
}

// handle runs one message through the handler and acknowledges it
func (q *Queue) handle(ctx context.Context, stream string, message goredis.XMessage, handler Handler) {
	payload, ok := message.Values["job"].(string)
	if !ok {
		q.log.Error("message missing job field", "stream", stream, "message_id", message.ID)
	} else if err := handler(ctx, stream, []byte(payload)); err != nil {
		q.log.Error("job handler error",
			"stream", stream,
			"message_id", message.ID,
			"error", err)
		// Fall through to ACK: the handler has recorded the failure,
		// redelivery would not change the outcome.
	}

	if err := q.redis.AckStreamMessage(ctx, stream, consumerGroup, message.ID); err != nil {
		q.log.Error("failed to ACK message", "message_id", message.ID, "error", err)
	}
}

// Depth returns the pending (delivered, unacknowledged) counts per stream
func (q *Queue) Depth(ctx context.Context) (map[string]int64, error) {
	depths := make(map[string]int64, 2)
	for _, stream := range []string{StreamWebhook, StreamBulk} {
		count, err := q.redis.PendingStreamCount(ctx, stream, consumerGroup)
		if err != nil {
			return nil, err
		}
		depths[stream] = count
	}
	return depths, nil
}
