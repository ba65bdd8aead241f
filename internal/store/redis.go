package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

// DefaultSessionTTL bounds how long an idle session survives in Redis.
const DefaultSessionTTL = 24 * time.Hour

// ErrIncomplete reports a session whose header survived but whose turns did not.
var ErrIncomplete = errors.New("store: session history incomplete")

// RedisStore keeps the session header as one JSON value and the conversation as a list of JSON turns.
// A counter key records how many turns were written so a partially expired session is detected.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedis connects to url (redis://...) and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisFromClient(client, ttl), nil
}

// NewRedisFromClient wraps an existing client. ttl <= 0 uses DefaultSessionTTL.
func NewRedisFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("store: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
		tracer: otel.Tracer("roleplay.internal.store.redis"),
	}
}

func headerKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func turnsKey(id string) string {
	return fmt.Sprintf("session:%s:turns", id)
}

func countKey(id string) string {
	return fmt.Sprintf("session:%s:count", id)
}

// expireAll refreshes the TTL of every key belonging to the session.
func (s *RedisStore) expireAll(ctx context.Context, pipe redis.Pipeliner, id string) {
	pipe.Expire(ctx, headerKey(id), s.ttl)
	pipe.Expire(ctx, turnsKey(id), s.ttl)
	pipe.Expire(ctx, countKey(id), s.ttl)
}

// Create stores a new session. It fails with ErrExists when the id is taken.
func (s *RedisStore) Create(ctx context.Context, st session.State) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.create")
	defer span.End()

	header := st.Clone()
	turns, err := encodeTurns(header.Conversation)
	if err != nil {
		span.RecordError(err)
		return err
	}
	header.Conversation = nil
	data, err := json.Marshal(header)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal session: %w", err)
	}

	created, err := s.client.SetNX(ctx, headerKey(st.ID), data, s.ttl).Result()
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to create session: %w", err)
	}
	if !created {
		return ErrExists
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(turns) > 0 {
			pipe.RPush(ctx, turnsKey(st.ID), turns...)
		}
		pipe.Set(ctx, countKey(st.ID), len(turns), s.ttl)
		s.expireAll(ctx, pipe, st.ID)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to persist turns: %w", err)
	}
	return nil
}

// Load reassembles the session from its header and turn list.
func (s *RedisStore) Load(ctx context.Context, id string) (session.State, error) {
	ctx, span := s.tracer.Start(ctx, "store.redis.load")
	defer span.End()

	data, err := s.client.Get(ctx, headerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.State{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return session.State{}, fmt.Errorf("store: failed to load session: %w", err)
	}

	var st session.State
	if err := json.Unmarshal(data, &st); err != nil {
		span.RecordError(err)
		return session.State{}, fmt.Errorf("store: failed to decode session: %w", err)
	}

	var (
		rangeCmd *redis.StringSliceCmd
		countCmd *redis.StringCmd
	)
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		rangeCmd = pipe.LRange(ctx, turnsKey(id), 0, -1)
		countCmd = pipe.Get(ctx, countKey(id))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		return session.State{}, fmt.Errorf("store: failed to load turns: %w", err)
	}
	raw, err := rangeCmd.Result()
	if err != nil {
		span.RecordError(err)
		return session.State{}, fmt.Errorf("store: failed to load turns: %w", err)
	}
	want, err := countCmd.Int()
	if err != nil || want != len(raw) {
		span.RecordError(ErrIncomplete)
		return session.State{}, fmt.Errorf("%w: session %s has %d of its turns", ErrIncomplete, id, len(raw))
	}
	st.Conversation = make([]session.Turn, 0, len(raw))
	for _, item := range raw {
		var turn session.Turn
		if err := json.Unmarshal([]byte(item), &turn); err != nil {
			span.RecordError(err)
			return session.State{}, fmt.Errorf("store: failed to decode turn: %w", err)
		}
		st.Conversation = append(st.Conversation, turn)
	}
	return st, nil
}

// AppendTurns pushes turns onto the conversation list and refreshes the TTL.
func (s *RedisStore) AppendTurns(ctx context.Context, id string, turns []session.Turn) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.append_turns")
	defer span.End()

	if err := s.ensureExists(ctx, id); err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	encoded, err := encodeTurns(turns)
	if err != nil {
		span.RecordError(err)
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, turnsKey(id), encoded...)
		pipe.IncrBy(ctx, countKey(id), int64(len(encoded)))
		s.expireAll(ctx, pipe, id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to append turns: %w", err)
	}
	return nil
}

// UpdateThread rewrites the session header and refreshes the TTL of the whole session.
func (s *RedisStore) UpdateThread(ctx context.Context, id string, thread Thread) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.update_thread")
	defer span.End()

	data, err := s.client.Get(ctx, headerKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to load session: %w", err)
	}

	var header session.State
	if err := json.Unmarshal(data, &header); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to decode session: %w", err)
	}
	thread.Apply(&header)

	data, err = json.Marshal(header)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to marshal session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, headerKey(id), data, s.ttl)
		s.expireAll(ctx, pipe, id)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: failed to update session: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) ensureExists(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, headerKey(id)).Result()
	if err != nil {
		return fmt.Errorf("store: failed to check session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTurns(turns []session.Turn) ([]any, error) {
	out := make([]any, 0, len(turns))
	for _, turn := range turns {
		data, err := json.Marshal(turn)
		if err != nil {
			return nil, fmt.Errorf("store: failed to marshal turn: %w", err)
		}
		out = append(out, data)
	}
	return out, nil
}
