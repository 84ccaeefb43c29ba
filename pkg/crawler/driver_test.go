package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDriver struct {
	stats   Stats
	stopped bool
	stopErr error
}

func (d *fakeDriver) Start(context.Context, Config) error { return nil }
func (d *fakeDriver) Stats() Stats                        { return d.stats }
func (d *fakeDriver) Stop(context.Context) error {
	d.stopped = true
	return d.stopErr
}

func TestRegistryTrackAndGet(t *testing.T) {
	r := NewRegistry()
	d := &fakeDriver{stats: Stats{PagesCrawled: 7}}

	s := r.Track("proj-a", "https://example.com", 2, d)
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "proj-a", s.ProjectID)
	assert.Equal(t, SessionRunning, s.State)
	assert.EqualValues(t, 7, s.Stats().PagesCrawled)

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryProjectIsolation(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	aDriver := &fakeDriver{}
	bDriver := &fakeDriver{}
	a := r.Track("proj-a", "https://a.example.com", 1, aDriver)
	b := r.Track("proj-b", "https://b.example.com", 1, bDriver)

	t.Run("active filters by project", func(t *testing.T) {
		require.Len(t, r.Active(), 2)
		forA := r.ActiveFor("proj-a")
		require.Len(t, forA, 1)
		assert.Equal(t, a.ID, forA[0].ID)
	})

	t.Run("stopping one project leaves the other running", func(t *testing.T) {
		require.NoError(t, r.StopProject(ctx, "proj-a"))
		assert.True(t, aDriver.stopped)
		assert.False(t, bDriver.stopped)

		got, err := r.Get(a.ID)
		require.NoError(t, err)
		assert.Equal(t, SessionStopped, got.State)
		assert.NotNil(t, got.StoppedAt)

		stillB, err := r.Get(b.ID)
		require.NoError(t, err)
		assert.Equal(t, SessionRunning, stillB.State)
		assert.Empty(t, r.ActiveFor("proj-a"))
		assert.Len(t, r.ActiveFor("proj-b"), 1)
	})

	t.Run("stop all catches the rest", func(t *testing.T) {
		require.NoError(t, r.StopAll(ctx))
		assert.True(t, bDriver.stopped)
		assert.Empty(t, r.Active())
	})
}

func TestRegistryStopFailure(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	d := &fakeDriver{stopErr: errors.New("engine wedged")}
	s := r.Track("proj-a", "https://a.example.com", 1, d)

	err := r.Stop(ctx, s.ID)
	require.Error(t, err)

	got, _ := r.Get(s.ID)
	assert.Equal(t, SessionFailed, got.State)
	assert.Contains(t, got.Error, "engine wedged")

	// A stopped or failed session is idempotent to stop.
	assert.NoError(t, r.Stop(ctx, s.ID))
	assert.ErrorIs(t, r.Stop(ctx, "missing"), ErrSessionNotFound)
}
