// Package kafka carries bus events over a Kafka topic with franz-go. The
// record key is the event ordering key, so one aggregate's events share a
// partition and keep their order.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"olympus/internal/eventbus"
)

// Transport pairs a producer client with a group consumer on the same topic.
type Transport struct {
	producer        *kgo.Client
	consumer        *kgo.Client
	topic           string
	deadLetterTopic string

	closeOnce sync.Once
}

var (
	_ eventbus.Transport           = (*Transport)(nil)
	_ eventbus.DeadLetterPublisher = (*Transport)(nil)
)

// New takes ownership of both clients; Close closes them. consumer may be nil
// for publish-only processes.
func New(producer, consumer *kgo.Client, topic, deadLetterTopic string) *Transport {
	return &Transport{
		producer:        producer,
		consumer:        consumer,
		topic:           topic,
		deadLetterTopic: deadLetterTopic,
	}
}

func (t *Transport) Send(ctx context.Context, key string, value []byte) error {
	return t.produce(ctx, t.topic, key, value)
}

func (t *Transport) PublishDeadLetter(ctx context.Context, key string, value []byte) error {
	if t.deadLetterTopic == "" {
		return nil
	}
	return t.produce(ctx, t.deadLetterTopic, key, value)
}

func (t *Transport) produce(ctx context.Context, topic, key string, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	if err := t.producer.ProduceSync(ctx, rec).FirstErr(); err != nil {
		if errors.Is(err, kgo.ErrClientClosed) {
			return eventbus.ErrTransportClosed
		}
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Fetch blocks until records arrive or ctx ends. Rebalances stay blocked
// until the returned batch is committed.
func (t *Transport) Fetch(ctx context.Context, max int) ([]eventbus.Message, error) {
	if t.consumer == nil {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	fetches := t.consumer.PollRecords(ctx, max)
	if fetches.IsClientClosed() {
		return nil, eventbus.ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		t.consumer.AllowRebalance()
		return nil, err
	}

	var fetchErr error
	fetches.EachError(func(topic string, partition int32, err error) {
		fetchErr = errors.Join(fetchErr, fmt.Errorf("fetch %s/%d: %w", topic, partition, err))
	})

	var msgs []eventbus.Message
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, eventbus.Message{Key: string(r.Key), Value: r.Value, Handle: r})
	})
	if len(msgs) == 0 {
		t.consumer.AllowRebalance()
		return nil, fetchErr
	}
	return msgs, nil
}

// Commit commits the batch offsets and releases the rebalance block.
func (t *Transport) Commit(ctx context.Context, batch []eventbus.Message) error {
	if t.consumer == nil {
		return nil
	}
	defer t.consumer.AllowRebalance()

	recs := make([]*kgo.Record, 0, len(batch))
	for _, m := range batch {
		if r, ok := m.Handle.(*kgo.Record); ok {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		return nil
	}
	if err := t.consumer.CommitRecords(ctx, recs...); err != nil {
		return fmt.Errorf("commit offsets: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if t.consumer != nil {
			t.consumer.Close()
		}
		_ = t.producer.Flush(context.Background())
		t.producer.Close()
	})
	return nil
}
