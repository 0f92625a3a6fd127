package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	dErrors "olympus/pkg/domain-errors"
)

// Start launches the consume loop. It returns immediately; call Shutdown to
// stop it.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return dErrors.New(dErrors.CodeConflict, "bus already started")
	}
	if b.stopping {
		return dErrors.New(dErrors.CodeUnavailable, "bus is shut down")
	}
	b.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.run(loopCtx)

	b.logger.InfoContext(ctx, "event bus started",
		"subscribers", len(b.subs), "lanes", b.lanes, "batch_size", b.batchSize)
	return nil
}

// Shutdown stops fetching, lets the batch in flight finish and commit, then
// closes the transport. Publishing is refused from the moment Shutdown begins.
// If ctx ends first the transport is closed anyway; the uncommitted batch is
// redelivered on the next start.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	var drainErr error
	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			drainErr = fmt.Errorf("event bus drain: %w", ctx.Err())
		}
	}
	closeErr := b.transport.Close()
	b.logger.InfoContext(ctx, "event bus stopped")
	return errors.Join(drainErr, closeErr)
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.done)
	// Batches already fetched finish even after ctx is cancelled.
	work := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := b.transport.Fetch(ctx, b.batchSize)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrTransportClosed) {
				return
			}
			b.logger.ErrorContext(ctx, "event fetch failed", "error", err)
			b.sleep(ctx, b.pollInterval)
			continue
		}
		if len(msgs) == 0 {
			b.sleep(ctx, b.pollInterval)
			continue
		}

		if !b.processUntilDone(ctx, work, msgs) {
			return
		}
		if err := b.transport.Commit(work, msgs); err != nil {
			b.logger.ErrorContext(ctx, "event commit failed", "error", err, "batch", len(msgs))
		}
	}
}

// processUntilDone retries a batch whose bookkeeping failed (ledger or dead
// letter store unavailable). Handlers that already succeeded are skipped on
// the retry through the ledger. It reports false when the bus stopped before
// the batch completed, in which case the batch is left uncommitted.
func (b *Bus) processUntilDone(ctx, work context.Context, msgs []Message) bool {
	for attempt := 1; ; attempt++ {
		err := b.processBatch(work, msgs)
		if err == nil {
			return true
		}
		b.logger.ErrorContext(work, "event batch incomplete, will retry", "error", err, "attempt", attempt)
		if !b.sleep(ctx, b.policy.Backoff(attempt)) {
			return false
		}
	}
}

// processBatch groups events by ordering key. Groups run concurrently up to
// the lane limit; events inside one group run in fetch order.
func (b *Bus) processBatch(ctx context.Context, msgs []Message) error {
	groups := make(map[string][]Event)
	var order []string
	for _, m := range msgs {
		e, err := Decode(m.Value, m.Key)
		if err != nil {
			b.incrementDeadLetter("decode")
			b.logger.ErrorContext(ctx, "dropping malformed event", "key", m.Key, "error", err)
			continue
		}
		key := e.OrderingKey()
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	var g errgroup.Group
	g.SetLimit(b.lanes)
	for _, key := range order {
		events := groups[key]
		g.Go(func() error {
			for _, e := range events {
				for _, sub := range subs {
					if !sub.pattern.Matches(e.EventType) {
						continue
					}
					if err := b.deliver(ctx, sub, e); err != nil {
						// Later events of this aggregate must wait for this one.
						return err
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// deliver runs one subscription's handler for e at most once per event id.
// Handler failures are retried and then dead-lettered; the returned error only
// reports bookkeeping failures that must hold the batch back.
func (b *Bus) deliver(ctx context.Context, sub subscription, e Event) error {
	done, err := b.ledger.Processed(ctx, sub.name, e.ID)
	if err != nil {
		return fmt.Errorf("ledger lookup for %s: %w", sub.name, err)
	}
	if done {
		b.incrementDuplicate("consume")
		return nil
	}

	ctx, span := tracer.Start(ctx, "eventbus.deliver", trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("event.type", e.EventType),
			attribute.String("event.id", e.ID.String()),
			attribute.String("subscriber", sub.name),
		))
	defer span.End()

	attempts, handlerErr := b.policy.DoNotify(ctx, func(ctx context.Context, attempt int) error {
		e.Attempts = attempt
		return b.invoke(ctx, sub, e)
	}, func(err error, wait time.Duration) {
		b.incrementDeliveryRetry(sub.name)
		b.logger.WarnContext(ctx, "event handler failed, retrying",
			"subscriber", sub.name, "event_id", e.ID, "event_type", e.EventType, "wait", wait, "error", err)
	})

	if handlerErr != nil {
		span.RecordError(handlerErr)
		span.SetStatus(codes.Error, "handler failed")
		e.Attempts = attempts
		if err := b.deadLetter(ctx, e, sub.name, handlerErr); err != nil {
			return err
		}
	} else {
		e.Status = StatusDelivered
		b.incrementDelivered(sub.name)
	}

	if err := b.ledger.MarkProcessed(ctx, sub.name, e.ID); err != nil {
		b.logger.ErrorContext(ctx, "failed to record processed event; it may be handled again",
			"subscriber", sub.name, "event_id", e.ID, "error", err)
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, sub subscription, e Event) (err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
		if b.metrics != nil {
			b.metrics.ObserveHandler(sub.name, start)
		}
	}()
	return sub.handler(ctx, e)
}

// sleep waits for d or until ctx ends, reporting whether the full wait elapsed.
func (b *Bus) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (b *Bus) incrementDelivered(subscriber string) {
	if b.metrics != nil {
		b.metrics.IncrementDelivered(subscriber)
	}
}

func (b *Bus) incrementDeliveryRetry(subscriber string) {
	if b.metrics != nil {
		b.metrics.IncrementDeliveryRetry(subscriber)
	}
}
