// Package sessiontest holds behaviour tests shared by every session registry
// backend.
package sessiontest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchsync/internal/repository/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Repo interface {
	Create(context.Context, *session.CreateParams) error
	Get(context.Context, string) (session.Session, error)
	ApplyStateChange(context.Context, *session.ApplyStateChangeParams) (session.Session, error)
	MarkBootstrapped(context.Context, string) (bool, error)
	SwitchMedia(context.Context, *session.SwitchMediaParams) (session.Session, error)
	Remove(context.Context, string) error
}

type NewRepoFunc func(t *testing.T, clock clockwork.Clock) Repo

var StartTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func float(f float64) *float64 {
	return &f
}

func Run(t *testing.T, newRepo NewRepoFunc) {
	t.Run("create and get", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(StartTime)
		repo := newRepo(t, clock)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s1", MediaRef: "https://youtu.be/a"}))

		s, err := repo.Get(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", s.Id)
		assert.Equal(t, "https://youtu.be/a", s.MediaRef)
		assert.True(t, s.Playing, "new session must be playing")
		assert.False(t, s.Started, "new session must not be started")
		assert.Zero(t, s.ReferencePosition)
	})

	t.Run("create rejects duplicate id", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "dup", MediaRef: "first"}))
		err := repo.Create(ctx, &session.CreateParams{SessionId: "dup", MediaRef: "second"})
		require.ErrorIs(t, err, session.ErrAlreadyExists)

		s, err := repo.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "first", s.MediaRef, "rejected create must not overwrite")
	})

	t.Run("get unknown", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))

		_, err := repo.Get(context.Background(), "missing")
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("pause without position extrapolates", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(StartTime)
		repo := newRepo(t, clock)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "m"}))
		_, err := repo.ApplyStateChange(ctx, &session.ApplyStateChangeParams{SessionId: "s", Playing: true, Position: float(10)})
		require.NoError(t, err)

		clock.Advance(5 * time.Second)
		s, err := repo.ApplyStateChange(ctx, &session.ApplyStateChangeParams{SessionId: "s", Playing: false})
		require.NoError(t, err)
		assert.Equal(t, 15.0, s.ReferencePosition)
		assert.False(t, s.Playing)
		assert.True(t, s.Started)
		assert.True(t, s.ReferenceWallTime.Equal(StartTime.Add(5*time.Second)))

		got, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, 15.0, got.PositionAt(clock.Now()))
		assert.False(t, got.Playing)
	})

	t.Run("seek sets position directly", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(StartTime)
		repo := newRepo(t, clock)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "m"}))
		clock.Advance(time.Minute)
		s, err := repo.ApplyStateChange(ctx, &session.ApplyStateChangeParams{SessionId: "s", Playing: true, Position: float(3.5)})
		require.NoError(t, err)
		assert.Equal(t, 3.5, s.ReferencePosition)

		clock.Advance(2 * time.Second)
		got, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, 5.5, got.PositionAt(clock.Now()))
	})

	t.Run("apply state change on unknown session", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))

		_, err := repo.ApplyStateChange(context.Background(), &session.ApplyStateChangeParams{SessionId: "missing", Playing: true})
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("mark bootstrapped latches once", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(StartTime)
		repo := newRepo(t, clock)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "m"}))
		clock.Advance(30 * time.Second)

		ok, err := repo.MarkBootstrapped(ctx, "s")
		require.NoError(t, err)
		assert.True(t, ok)

		s, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.True(t, s.Started)
		assert.True(t, s.Playing)
		assert.True(t, s.ReferenceWallTime.Equal(StartTime.Add(30*time.Second)))
		assert.Zero(t, s.ReferencePosition)

		clock.Advance(time.Second)
		ok, err = repo.MarkBootstrapped(ctx, "s")
		require.NoError(t, err)
		assert.False(t, ok, "second bootstrap must not win")

		s, err = repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.True(t, s.ReferenceWallTime.Equal(StartTime.Add(30*time.Second)), "losing bootstrap must not move the reference")
	})

	t.Run("mark bootstrapped is exclusive under concurrency", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "m"}))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.MarkBootstrapped(ctx, "s")
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("mark bootstrapped unknown", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))

		_, err := repo.MarkBootstrapped(context.Background(), "missing")
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("switch media resets session", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(StartTime)
		repo := newRepo(t, clock)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "old"}))
		_, err := repo.ApplyStateChange(ctx, &session.ApplyStateChangeParams{SessionId: "s", Playing: false, Position: float(120)})
		require.NoError(t, err)

		clock.Advance(time.Second)
		s, err := repo.SwitchMedia(ctx, &session.SwitchMediaParams{SessionId: "s", MediaRef: "new"})
		require.NoError(t, err)
		assert.Equal(t, "new", s.MediaRef)
		assert.True(t, s.Playing)
		assert.False(t, s.Started)
		assert.Zero(t, s.ReferencePosition)

		got, err := repo.Get(ctx, "s")
		require.NoError(t, err)
		assert.Equal(t, s.MediaRef, got.MediaRef)
		assert.False(t, got.Started)
	})

	t.Run("switch media unknown", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))

		_, err := repo.SwitchMedia(context.Background(), &session.SwitchMediaParams{SessionId: "missing", MediaRef: "m"})
		require.ErrorIs(t, err, session.ErrNotFound)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		repo := newRepo(t, clockwork.NewFakeClockAt(StartTime))
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "m"}))
		require.NoError(t, repo.Remove(ctx, "s"))
		require.NoError(t, repo.Remove(ctx, "s"))
		require.NoError(t, repo.Remove(ctx, "never-existed"))

		_, err := repo.Get(ctx, "s")
		require.ErrorIs(t, err, session.ErrNotFound)

		require.NoError(t, repo.Create(ctx, &session.CreateParams{SessionId: "s", MediaRef: "again"}), "id must be reusable after removal")
	})
}
