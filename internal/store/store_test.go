package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/guest-roleplay/backend/internal/model/persona"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/scenario"
	"github.com/zhouzirui/guest-roleplay/backend/internal/model/session"
)

type sessionStore interface {
	Create(ctx context.Context, st session.State) error
	Load(ctx context.Context, id string) (session.State, error)
	AppendTurns(ctx context.Context, id string, turns []session.Turn) error
	UpdateThread(ctx context.Context, id string, thread Thread) error
	Close() error
}

func backends(t *testing.T) map[string]sessionStore {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)

	out := map[string]sessionStore{
		"memory": NewMemory(),
		"redis":  NewRedisFromClient(client, time.Hour),
		"sqlite": sqlite,
	}
	t.Cleanup(func() {
		for _, s := range out {
			_ = s.Close()
		}
	})
	return out
}

func newSession(id string) session.State {
	st := session.New(id, scenario.Seed()[1], persona.Seed()[1])
	st.Conversation = append(st.Conversation, session.NewGuestTurn("This charge is wrong."))
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := newSession("s-" + name)
			require.NoError(t, s.Create(ctx, st))
			assert.ErrorIs(t, s.Create(ctx, st), ErrExists)

			loaded, err := s.Load(ctx, st.ID)
			require.NoError(t, err)
			assert.Equal(t, st.Scenario, loaded.Scenario)
			assert.Equal(t, st.Persona, loaded.Persona)
			assert.Equal(t, session.StatusActive, loaded.Status)
			require.Len(t, loaded.Conversation, 1)
			assert.Equal(t, "This charge is wrong.", loaded.Conversation[0].Content)

			trainee := session.NewTraineeTurn("Let me look into that.")
			require.NoError(t, trainee.AttachRating(session.Rating{Score: 4, Reason: "Calm", Suggestions: []string{"Apologise"}}))
			reply := session.NewGuestTurn("Hurry up.")
			require.NoError(t, s.AppendTurns(ctx, st.ID, []session.Turn{trainee, reply}))

			loaded, err = s.Load(ctx, st.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Conversation, 3)
			assert.Equal(t, session.Trainee, loaded.Conversation[1].Speaker)
			require.NotNil(t, loaded.Conversation[1].Rating)
			assert.Equal(t, 4, *loaded.Conversation[1].Rating)
			assert.Equal(t, []string{"Apologise"}, loaded.Conversation[1].Suggestions)
			assert.Equal(t, "Hurry up.", loaded.Conversation[2].Content)
		})
	}
}

func TestStoreUpdateThread(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			st := newSession("t-" + name)
			require.NoError(t, s.Create(ctx, st))

			score := 3
			avg := 3.0
			assessment := "Developing."
			thread := Thread{
				Status:           session.StatusCompleted,
				LastRating:       &score,
				LastRatingReason: "Okay",
				Feedback: &session.Feedback{
					Outcome:      session.OutcomeForced,
					AverageScore: &avg,
					RatedTurns:   1,
					TraineeTurns: 1,
					Strengths:    []string{},
					Weaknesses:   []string{},
					Themes:       []session.ThemeCount{{Theme: "apology", Count: 1}},
					Assessment:   &assessment,
				},
			}
			require.NoError(t, s.UpdateThread(ctx, st.ID, thread))

			loaded, err := s.Load(ctx, st.ID)
			require.NoError(t, err)
			assert.Equal(t, thread, ThreadOf(loaded))
			assert.Len(t, loaded.Conversation, 1)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.AppendTurns(ctx, "missing", []session.Turn{session.NewGuestTurn("x")}), ErrNotFound)
			assert.ErrorIs(t, s.UpdateThread(ctx, "missing", Thread{Status: session.StatusPaused}), ErrNotFound)
		})
	}
}

func TestRedisStoreExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("ttl")))
	mr.FastForward(2 * time.Minute)

	_, err := s.Load(ctx, "ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreUpdateThreadKeepsTurnsAlive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("paused")))
	mr.FastForward(50 * time.Minute)
	require.NoError(t, s.UpdateThread(ctx, "paused", Thread{Status: session.StatusPaused}))
	mr.FastForward(20 * time.Minute)

	got, err := s.Load(ctx, "paused")
	require.NoError(t, err)
	assert.Equal(t, session.StatusPaused, got.Status)
	require.Len(t, got.Conversation, 1)
	assert.Equal(t, "This charge is wrong.", got.Conversation[0].Content)
}

func TestRedisStoreDetectsLostTurns(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newSession("lost")))
	mr.Del(turnsKey("lost"))

	_, err := s.Load(ctx, "lost")
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestRedisStoreEmptyConversation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, time.Hour)
	ctx := context.Background()

	st := session.New("empty", scenario.Seed()[1], persona.Seed()[1])
	require.NoError(t, s.Create(ctx, st))

	got, err := s.Load(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, got.Conversation)

	require.NoError(t, s.AppendTurns(ctx, "empty", []session.Turn{session.NewTraineeTurn("Hello")}))
	got, err = s.Load(ctx, "empty")
	require.NoError(t, err)
	assert.Len(t, got.Conversation, 1)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, newSession("copy")))

	loaded, err := s.Load(ctx, "copy")
	require.NoError(t, err)
	loaded.Conversation[0].Content = "changed"

	again, err := s.Load(ctx, "copy")
	require.NoError(t, err)
	assert.Equal(t, "This charge is wrong.", again.Conversation[0].Content)
}
