package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one delivery off a stream, with the redelivery count Redis has
// tracked in the consumer group's pending-entries list — the "attempts"
// counter spec section 5 requires.
type Message struct {
	ID       string
	Payload  []byte
	Attempts int
}

const payloadField = "data"

// Stream wraps a single Redis Streams + consumer-group queue.
type Stream struct {
	rdb   *redis.Client
	name  string
	group string
}

// NewStream binds to a stream name and ensures its consumer group exists.
// Safe to call concurrently from multiple worker processes.
func NewStream(ctx context.Context, rdb *redis.Client, name, group string) (*Stream, error) {
	s := &Stream{rdb: rdb, name: name, group: group}
	err := rdb.XGroupCreateMkStream(ctx, name, group, "$").Err()
	if err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("queue: create group %s/%s: %w", name, group, err)
	}
	return s, nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// Publish appends a message to the stream.
func (s *Stream) Publish(ctx context.Context, payload []byte) (string, error) {
	id, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.name,
		Values: map[string]interface{}{payloadField: payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("queue: publish to %s: %w", s.name, err)
	}
	return id, nil
}

// ReadBatch claims up to count new messages for consumer, blocking up to
// block for at least one to arrive.
func (s *Stream) ReadBatch(ctx context.Context, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: consumer,
		Streams:  []string{s.name, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read batch from %s: %w", s.name, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return s.toMessages(ctx, res[0].Messages)
}

// ClaimStale reclaims messages that have been pending longer than minIdle,
// giving at-least-once delivery when a consumer dies mid-processing
// (spec section 5: redelivery after less than the queue's visibility
// timeout).
func (s *Stream) ClaimStale(ctx context.Context, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	xmsgs, _, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.name,
		Group:    s.group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: claim stale from %s: %w", s.name, err)
	}
	return s.toMessages(ctx, xmsgs)
}

// Ack removes a message from the pending-entries list after successful
// processing (or after a terminal classification that should not retry).
func (s *Stream) Ack(ctx context.Context, id string) error {
	if err := s.rdb.XAck(ctx, s.name, s.group, id).Err(); err != nil {
		return fmt.Errorf("queue: ack %s on %s: %w", id, s.name, err)
	}
	return nil
}

func (s *Stream) toMessages(ctx context.Context, xmsgs []redis.XMessage) ([]Message, error) {
	if len(xmsgs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(xmsgs))
	for i, m := range xmsgs {
		ids[i] = m.ID
	}
	attempts, err := s.attemptsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(xmsgs))
	for _, m := range xmsgs {
		raw, _ := m.Values[payloadField].(string)
		out = append(out, Message{ID: m.ID, Payload: []byte(raw), Attempts: attempts[m.ID]})
	}
	return out, nil
}

// attemptsFor reads each message's redelivery count from the consumer
// group's pending-entries list.
func (s *Stream) attemptsFor(ctx context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		pending, err := s.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.name,
			Group:  s.group,
			Start:  id,
			End:    id,
			Count:  1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: pending info for %s: %w", id, err)
		}
		attempts := 1
		if len(pending) > 0 {
			attempts = int(pending[0].RetryCount)
			if attempts < 1 {
				attempts = 1
			}
		}
		out[id] = attempts
	}
	return out, nil
}
