// Package redis keeps audit events in one Redis list per UTC day.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/atvirokodosprendimai/chainaudit/internal/core/domain"
	"github.com/atvirokodosprendimai/chainaudit/internal/core/ports"
)

const dayLayout = "2006-01-02"

// EventStore implements ports.EventSink and ports.EventSource. Day lists are
// indexed in a sorted set scored by the day's unix time.
type EventStore struct {
	client *backend.Client
	codec  ports.EventCodec
	prefix string
	ttl    time.Duration
}

type Option func(*EventStore)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *EventStore) {
		s.prefix = prefix
	}
}

// WithTTL expires day lists after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *EventStore) {
		s.ttl = ttl
	}
}

func New(address, password string, db int, codec ports.EventCodec, opts ...Option) *EventStore {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, codec, opts...)
}

func NewFromClient(client *backend.Client, codec ports.EventCodec, opts ...Option) *EventStore {
	s := &EventStore{
		client: client,
		codec:  codec,
		prefix: "chainaudit:events:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EventStore) dayKey(day string) string {
	return s.prefix + day
}

func (s *EventStore) indexKey() string {
	return s.prefix + "days"
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *EventStore) WriteBatch(ctx context.Context, events []domain.AuditEvent) error {
	encoded, encErr := ports.EncodeBatch(s.codec.Encode, events)
	if len(encoded) == 0 {
		return encErr
	}
	byDay := make(map[string][]any)
	var days []string
	for _, enc := range encoded {
		day := enc.Event.CreatedAt.UTC().Format(dayLayout)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], enc.Record)
	}

	pipe := s.client.TxPipeline()
	for _, day := range days {
		key := s.dayKey(day)
		pipe.RPush(ctx, key, byDay[day]...)
		parsed, _ := time.Parse(dayLayout, day)
		pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: float64(parsed.Unix()), Member: day})
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write batch: %w", err)
	}
	return encErr
}

func (s *EventStore) ReadSince(ctx context.Context, since time.Time) ([]domain.AuditEvent, error) {
	days, err := s.client.ZRangeByScore(ctx, s.indexKey(), &backend.ZRangeBy{
		Min: strconv.FormatInt(dayStart(since).Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list days: %w", err)
	}

	var out []domain.AuditEvent
	for _, day := range days {
		records, err := s.client.LRange(ctx, s.dayKey(day), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("redis read %s: %w", day, err)
		}
		for _, record := range records {
			e, err := s.codec.Decode([]byte(record))
			if err != nil {
				return nil, fmt.Errorf("decode event from %s: %w", day, err)
			}
			if !e.CreatedAt.Before(since) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (s *EventStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *EventStore) Close() error {
	return s.client.Close()
}
