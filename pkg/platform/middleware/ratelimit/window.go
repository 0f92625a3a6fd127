package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlidingWindow keeps per-key request timestamps in process. It suits a
// single replica; use RedisWindow when several replicas share a budget.
type SlidingWindow struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		buckets: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// WithClock replaces the time source.
func (s *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	s.now = now
	return s
}

func (s *SlidingWindow) Allow(_ context.Context, key string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.buckets[key], now.Add(-s.window))
	if len(stamps) >= s.limit {
		s.buckets[key] = stamps
		return Result{Limit: s.limit, ResetAt: stamps[0].Add(s.window)}, nil
	}
	stamps = append(stamps, now)
	s.buckets[key] = stamps
	return Result{
		Allowed:   true,
		Limit:     s.limit,
		Remaining: s.limit - len(stamps),
		ResetAt:   stamps[0].Add(s.window),
	}, nil
}

// Sweep drops keys whose window has fully elapsed.
func (s *SlidingWindow) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.window)
	for key, stamps := range s.buckets {
		if len(prune(stamps, cutoff)) == 0 {
			delete(s.buckets, key)
		}
	}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}

// RedisWindow is the shared sliding window: one sorted set per key scored by
// request time in milliseconds.
type RedisWindow struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedisWindow(client redis.UniversalClient, limit int, window time.Duration) *RedisWindow {
	return &RedisWindow{client: client, prefix: "olympus:ratelimit:", limit: limit, window: window, now: time.Now}
}

func (w *RedisWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := w.now()
	k := w.prefix + key
	member := strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()
	cutoff := strconv.FormatInt(now.Add(-w.window).UnixMilli(), 10)

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := w.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", cutoff)
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMilli()), Member: member})
		card = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		p.PExpire(ctx, k, w.window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit window: %w", err)
	}

	resetAt := now.Add(w.window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMilli(int64(zs[0].Score)).Add(w.window)
	}
	count := int(card.Val())
	if count > w.limit {
		// Refused requests do not consume budget.
		if err := w.client.ZRem(ctx, k, member).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit window: %w", err)
		}
		return Result{Limit: w.limit, ResetAt: resetAt}, nil
	}
	return Result{Allowed: true, Limit: w.limit, Remaining: w.limit - count, ResetAt: resetAt}, nil
}
