package registry_test

import (
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vrcbz/dvr/internal/registry"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	reg := registry.New()

	alice := registry.NewSession("alice", time.Now().UTC())

	t.Run("insert", func(t *testing.T) {
		require.NoError(t, reg.Insert(alice))
		require.Equal(t, 1, reg.Len())
	})

	t.Run("duplicate", func(t *testing.T) {
		err := reg.Insert(registry.NewSession("alice", time.Now().UTC()))
		require.ErrorIs(t, err, registry.ErrDuplicateSession)
		require.Equal(t, 1, reg.Len())
	})

	t.Run("get", func(t *testing.T) {
		got, ok := reg.Get("alice")
		require.True(t, ok)
		require.Same(t, alice, got)

		_, ok = reg.Get("bob")
		require.False(t, ok)
	})

	t.Run("list is sorted by user", func(t *testing.T) {
		require.NoError(t, reg.Insert(registry.NewSession("zoe", time.Now().UTC())))
		require.NoError(t, reg.Insert(registry.NewSession("bob", time.Now().UTC())))

		sessions := reg.List()
		require.Len(t, sessions, 3)
		require.Equal(t, "alice", sessions[0].User)
		require.Equal(t, "bob", sessions[1].User)
		require.Equal(t, "zoe", sessions[2].User)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		reg.Remove("zoe")
		reg.Remove("zoe")
		reg.Remove("never-existed")
		require.Equal(t, 2, reg.Len())
	})

	t.Run("removed user is immediately admissible again", func(t *testing.T) {
		reg.Remove("alice")
		require.NoError(t, reg.Insert(registry.NewSession("alice", time.Now().UTC())))
	})
}

func TestConcurrentInsertSameUser(t *testing.T) {
	t.Parallel()
	reg := registry.New()

	const attempts = 64
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = reg.Insert(registry.NewSession("alice", time.Now().UTC()))
		}()
	}
	wg.Wait()

	var admitted, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			admitted++
		default:
			require.ErrorIs(t, err, registry.ErrDuplicateSession)
			rejected++
		}
	}
	require.Equal(t, 1, admitted)
	require.Equal(t, attempts-1, rejected)
	require.Equal(t, 1, reg.Len())
}

func TestConcurrentInsertDistinctUsers(t *testing.T) {
	t.Parallel()
	reg := registry.New()

	const users = 32
	var wg sync.WaitGroup
	errs := make([]error, users)
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user-%02d", i)
			errs[i] = reg.Insert(registry.NewSession(user, time.Now().UTC()))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, users, reg.Len())
}

func TestSessionStateForwardOnly(t *testing.T) {
	t.Parallel()
	sess := registry.NewSession("alice", time.Now().UTC())
	require.Equal(t, registry.Capturing, sess.State())

	sess.SetState(registry.Transcoding)
	require.Equal(t, registry.Transcoding, sess.State())

	// backwards transitions are ignored
	sess.SetState(registry.Capturing)
	require.Equal(t, registry.Transcoding, sess.State())

	select {
	case <-sess.Terminal():
		t.Fatal("terminal closed before a terminal state")
	default:
	}

	sess.SetState(registry.Done)
	require.Equal(t, registry.Done, sess.State())
	require.True(t, sess.State().Terminal())

	select {
	case <-sess.Terminal():
	case <-time.After(time.Second):
		t.Fatal("terminal channel not closed")
	}
}

func TestFilename(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 2, 15, 4, 5, 123_000_000, time.UTC)
	got := registry.Filename("alice", start)
	require.Equal(t, "alice-2026-01-02T15-04-05-123Z.ts", got)

	// millisecond precision keeps two sessions within one second apart
	other := registry.Filename("alice", start.Add(time.Millisecond))
	require.NotEqual(t, got, other)

	pattern := regexp.MustCompile(`^alice-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.ts$`)
	require.Regexp(t, pattern, got)
}

func TestSnapshotDuration(t *testing.T) {
	t.Parallel()
	start := time.Now().UTC()
	sess := registry.NewSession("alice", start)
	snap := sess.Snapshot()

	require.Equal(t, 0, snap.Duration(start.Add(900*time.Millisecond)))
	require.Equal(t, 1, snap.Duration(start.Add(1900*time.Millisecond)))
	require.Equal(t, 61, snap.Duration(start.Add(61*time.Second)))
}
