package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"olympus/internal/eventbus"
	busmetrics "olympus/internal/eventbus/metrics"
	"olympus/internal/eventbus/outbox"
	"olympus/internal/eventbus/transport/memory"
	id "olympus/pkg/domain"
	"olympus/pkg/platform/retry"
)

type fakePublisher struct {
	mu      sync.Mutex
	failFor map[id.EventID]bool
	sent    []id.EventID
	dead    []id.EventID
	policy  retry.Policy
}

func (f *fakePublisher) SendOnce(_ context.Context, e eventbus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[e.ID] {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, e.ID)
	return nil
}

func (f *fakePublisher) DeadLetter(_ context.Context, e eventbus.Event, origin string, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead = append(f.dead, e.ID)
	return nil
}

func (f *fakePublisher) Policy() retry.Policy { return f.policy }

// flakyTransport fails a fixed number of sends and then delegates.
type flakyTransport struct {
	*memory.Transport
	mu       sync.Mutex
	failures int
}

func (t *flakyTransport) Send(ctx context.Context, key string, value []byte) error {
	t.mu.Lock()
	if t.failures > 0 {
		t.failures--
		t.mu.Unlock()
		return errors.New("broker unreachable")
	}
	t.mu.Unlock()
	return t.Transport.Send(ctx, key, value)
}

// brokenDedup forgets everything and fails every write.
type brokenDedup struct{}

func (brokenDedup) Seen(context.Context, id.EventID) (bool, error) { return false, nil }

func (brokenDedup) Mark(context.Context, id.EventID, time.Duration) error {
	return errors.New("dedup store down")
}

type RelaySuite struct {
	suite.Suite
	ctx       context.Context
	store     *outbox.Memory
	publisher *fakePublisher
	now       time.Time
	relay     *outbox.Relay
	tenantID  id.TenantID
}

func TestRelaySuite(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func (s *RelaySuite) SetupTest() {
	s.ctx = context.Background()
	s.store = outbox.NewMemory()
	s.publisher = &fakePublisher{
		failFor: map[id.EventID]bool{},
		policy:  retry.Policy{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: time.Minute, Multiplier: 2},
	}
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.relay = outbox.NewRelay(s.store, s.publisher, outbox.WithRelayClock(func() time.Time { return s.now }))
	s.tenantID = id.NewTenantID()
}

func (s *RelaySuite) appendEvent(aggregate string) eventbus.Event {
	e, err := eventbus.NewEvent(s.tenantID, "commerce.order.updated", nil,
		eventbus.WithAggregate(aggregate), eventbus.WithCreatedAt(s.now))
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(s.ctx, e))
	return e
}

func (s *RelaySuite) TestRelaysInCreationOrder() {
	a1, b1, a2 := s.appendEvent("a"), s.appendEvent("b"), s.appendEvent("a")

	n, err := s.relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(3, n)
	s.Equal([]id.EventID{a1.ID, b1.ID, a2.ID}, s.publisher.sent)

	rec, ok := s.store.Get(a1.ID)
	s.Require().True(ok)
	s.Equal(eventbus.StatusDelivered, rec.Event.Status)

	n, err = s.relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n, "published rows are not relayed again")
}

func (s *RelaySuite) TestFailedRowHoldsBackItsAggregate() {
	a1, b1, a2 := s.appendEvent("a"), s.appendEvent("b"), s.appendEvent("a")
	s.publisher.failFor[a1.ID] = true

	n, err := s.relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal([]id.EventID{b1.ID}, s.publisher.sent)

	rec, _ := s.store.Get(a1.ID)
	s.Equal(1, rec.Event.Attempts)
	s.Equal(s.now.Add(time.Second), rec.NextAttemptAt)
	s.Equal("transport down", rec.LastError)

	s.Run("not retried before the backoff elapses", func() {
		n, err := s.relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("retried in order once due", func() {
		delete(s.publisher.failFor, a1.ID)
		s.now = s.now.Add(time.Second)
		n, err := s.relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(2, n)
		s.Equal([]id.EventID{b1.ID, a1.ID, a2.ID}, s.publisher.sent)
	})
}

func (s *RelaySuite) TestExhaustedRowIsDeadLettered() {
	e := s.appendEvent("a")
	s.publisher.failFor[e.ID] = true

	for i := 0; i < 3; i++ {
		_, err := s.relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.now = s.now.Add(time.Hour)
	}

	s.Equal([]id.EventID{e.ID}, s.publisher.dead)
	rec, _ := s.store.Get(e.ID)
	s.Equal(eventbus.StatusDeadLettered, rec.Event.Status)
	s.Equal(3, rec.Event.Attempts)

	n, err := s.relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Len(s.publisher.dead, 1, "dead-lettered rows stay put")
}

func (s *RelaySuite) TestRelayThroughBus() {
	log := memory.NewLog()
	reg := prometheus.NewRegistry()
	m := busmetrics.New(reg)
	bus := eventbus.New(memory.NewTransport(log, "olympus"), eventbus.WithMetrics(m))
	defer bus.Shutdown(context.Background())

	relay := outbox.NewRelay(s.store, bus, outbox.WithRelayMetrics(m))
	s.appendEvent("a")
	s.appendEvent("b")

	n, err := relay.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
	s.Equal(2, log.Len())
	s.Equal(float64(2), testutil.ToFloat64(m.OutboxRelayed))
}

func (s *RelaySuite) TestFailedSendIsRetriedThroughBus() {
	s.Run("failed send leaves no dedup mark behind", func() {
		log := memory.NewLog()
		transport := &flakyTransport{Transport: memory.NewTransport(log, "olympus"), failures: 1}
		bus := eventbus.New(transport)
		defer bus.Shutdown(context.Background())
		relay := outbox.NewRelay(s.store, bus, outbox.WithRelayClock(func() time.Time { return s.now }))
		e := s.appendEvent("a")

		n, err := relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Zero(n)
		s.Zero(log.Len())

		s.now = s.now.Add(time.Hour)
		n, err = relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(1, log.Len(), "the row is only published once the transport has it")
		rec, _ := s.store.Get(e.ID)
		s.Equal(eventbus.StatusDelivered, rec.Event.Status)
	})

	s.Run("dedup write failure after the ack still publishes", func() {
		log := memory.NewLog()
		transport := &flakyTransport{Transport: memory.NewTransport(log, "olympus"), failures: 1}
		bus := eventbus.New(transport, eventbus.WithDedupStore(brokenDedup{}))
		defer bus.Shutdown(context.Background())
		relay := outbox.NewRelay(s.store, bus, outbox.WithRelayClock(func() time.Time { return s.now }))
		e := s.appendEvent("b")

		_, err := relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Zero(log.Len())

		s.now = s.now.Add(time.Hour)
		n, err := relay.RunOnce(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n)
		s.Equal(1, log.Len())
		rec, _ := s.store.Get(e.ID)
		s.Equal(eventbus.StatusDelivered, rec.Event.Status)
	})
}

func (s *RelaySuite) TestRunStopsWithContext() {
	s.appendEvent("a")
	ctx, cancel := context.WithCancel(s.ctx)
	relay := outbox.NewRelay(s.store, s.publisher, outbox.WithInterval(time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	s.Eventually(func() bool {
		s.publisher.mu.Lock()
		defer s.publisher.mu.Unlock()
		return len(s.publisher.sent) == 1
	}, time.Second, time.Millisecond)
	cancel()
	s.NoError(<-done)
}
