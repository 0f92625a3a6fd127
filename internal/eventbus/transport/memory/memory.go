// Package memory is an in-process event transport: an append-only log with
// per-group committed offsets.
package memory

import (
	"context"
	"sync"

	"olympus/internal/eventbus"
)

type record struct {
	key   string
	value []byte
}

// Log is the shared, process-lifetime event log. Transports attached to the
// same log and group resume from the group's committed offset, so a
// transport that is closed and replaced sees every uncommitted record again.
type Log struct {
	mu        sync.Mutex
	records   []record
	committed map[string]int
}

func NewLog() *Log {
	return &Log{committed: make(map[string]int)}
}

// Len returns the number of records ever appended.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Committed returns the committed offset of group.
func (l *Log) Committed(group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed[group]
}

// Transport is one consumer-group member on a Log. It also publishes.
type Transport struct {
	log   *Log
	group string

	mu       sync.Mutex
	position int
	closed   bool
}

var _ eventbus.Transport = (*Transport)(nil)

// NewTransport attaches a consumer for group, positioned at its committed
// offset.
func NewTransport(log *Log, group string) *Transport {
	return &Transport{log: log, group: group, position: log.Committed(group)}
}

func (t *Transport) Send(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return eventbus.ErrTransportClosed
	}
	buf := make([]byte, len(value))
	copy(buf, value)

	t.log.mu.Lock()
	t.log.records = append(t.log.records, record{key: key, value: buf})
	t.log.mu.Unlock()
	return nil
}

// Fetch returns up to max records after the last fetched one without waiting.
func (t *Transport) Fetch(ctx context.Context, max int) ([]eventbus.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, eventbus.ErrTransportClosed
	}

	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	end := len(t.log.records)
	if max > 0 && end-t.position > max {
		end = t.position + max
	}
	msgs := make([]eventbus.Message, 0, end-t.position)
	for off := t.position; off < end; off++ {
		r := t.log.records[off]
		msgs = append(msgs, eventbus.Message{Key: r.key, Value: r.value, Handle: off})
	}
	t.position = end
	return msgs, nil
}

func (t *Transport) Commit(_ context.Context, batch []eventbus.Message) error {
	if len(batch) == 0 {
		return nil
	}
	next := 0
	for _, m := range batch {
		if off, ok := m.Handle.(int); ok && off+1 > next {
			next = off + 1
		}
	}
	t.log.mu.Lock()
	defer t.log.mu.Unlock()
	if next > t.log.committed[t.group] {
		t.log.committed[t.group] = next
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
