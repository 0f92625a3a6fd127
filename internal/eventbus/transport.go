package eventbus

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by transports after Close.
var ErrTransportClosed = errors.New("eventbus: transport closed")

// Message is one fetched record. Handle is transport-private bookkeeping
// passed back on Commit.
type Message struct {
	Key    string
	Value  []byte
	Handle any
}

// Transport moves encoded envelopes between publishers and the consume loop.
// Fetch returns records not yet committed by this consumer; records fetched
// but never committed are delivered again after a restart.
type Transport interface {
	Send(ctx context.Context, key string, value []byte) error
	Fetch(ctx context.Context, max int) ([]Message, error)
	Commit(ctx context.Context, batch []Message) error
	Close() error
}

// DeadLetterPublisher is implemented by transports that mirror dead letters
// onto a dedicated topic.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, key string, value []byte) error
}
