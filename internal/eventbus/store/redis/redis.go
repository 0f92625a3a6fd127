// Package redis holds Redis-backed bus stores: the publish dedup window and
// the subscriber processed-event ledger.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"olympus/internal/eventbus"
	id "olympus/pkg/domain"
)

const (
	dedupKeyPrefix  = "bus:dedup:"
	ledgerKeyPrefix = "bus:processed:"
)

// Dedup records acknowledged event ids with SET EX so a republish inside the
// retention window is skipped.
type Dedup struct {
	client *redis.Client
}

var _ eventbus.DedupStore = (*Dedup)(nil)

func NewDedup(client *redis.Client) *Dedup {
	return &Dedup{client: client}
}

func (d *Dedup) Seen(ctx context.Context, eventID id.EventID) (bool, error) {
	n, err := d.client.Exists(ctx, dedupKeyPrefix+eventID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("check published event: %w", err)
	}
	return n > 0, nil
}

func (d *Dedup) Mark(ctx context.Context, eventID id.EventID, retention time.Duration) error {
	if err := d.client.Set(ctx, dedupKeyPrefix+eventID.String(), "1", retention).Err(); err != nil {
		return fmt.Errorf("mark published event: %w", err)
	}
	return nil
}

// Ledger records processed (subscriber, event) pairs. Entries expire after
// retention; it must exceed the longest redelivery horizon of the transport.
type Ledger struct {
	client    *redis.Client
	retention time.Duration
}

var _ eventbus.Ledger = (*Ledger)(nil)

func NewLedger(client *redis.Client, retention time.Duration) *Ledger {
	return &Ledger{client: client, retention: retention}
}

func ledgerKey(subscriber string, eventID id.EventID) string {
	return ledgerKeyPrefix + subscriber + ":" + eventID.String()
}

func (l *Ledger) Processed(ctx context.Context, subscriber string, eventID id.EventID) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerKey(subscriber, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return n > 0, nil
}

func (l *Ledger) MarkProcessed(ctx context.Context, subscriber string, eventID id.EventID) error {
	if err := l.client.Set(ctx, ledgerKey(subscriber, eventID), "1", l.retention).Err(); err != nil {
		return fmt.Errorf("mark processed event: %w", err)
	}
	return nil
}
