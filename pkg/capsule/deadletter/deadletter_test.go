package deadletter_test

import (
	"context"
	"errors"
	"testing"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/deadletter"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPoster struct {
	posted []*event.Event
	err    error
}

func (p *recordingPoster) Post(e *event.Event) error {
	if p.err != nil {
		return p.err
	}
	p.posted = append(p.posted, e)
	return nil
}

func failure(t *testing.T, listener string, value int32) *deadletter.FailedDispatch {
	t.Helper()
	e := event.New(event.TypeCommand, event.WithCommand(event.CommandUser, nil))
	require.NoError(t, e.AddInt32("value", value))
	f, err := deadletter.NewFailedDispatch(e, listener, errors.New("handler failed"))
	require.NoError(t, err)
	return f
}

func TestRecord_MergesSameFingerprint(t *testing.T) {
	s := deadletter.New(deadletter.Config{MaxAttempts: 10})
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, failure(t, "hud", 1)))
	require.NoError(t, s.Record(ctx, failure(t, "hud", 1)))
	require.NoError(t, s.Record(ctx, failure(t, "hud", 2)))
	require.NoError(t, s.Record(ctx, failure(t, "log", 1)))

	entries := s.List()
	require.Len(t, entries, 3)
	attempts := map[string]int{}
	for _, f := range entries {
		attempts[f.Listener] += f.Attempts
	}
	assert.Equal(t, map[string]int{"hud": 3, "log": 1}, attempts)

	stats := s.Stats()
	assert.Equal(t, int64(3), stats.Recorded)
	assert.Equal(t, int64(1), stats.Merged)
}

func TestNewFailedDispatch_Category(t *testing.T) {
	e := event.New(event.TypeCommand)

	f, err := deadletter.NewFailedDispatch(e, "hud", cerrors.Transient(errors.New("busy"), "hud"))
	require.NoError(t, err)
	assert.Equal(t, "transient", f.Category)

	f, err = deadletter.NewFailedDispatch(e, "hud", cerrors.Locked("event.add", "x"))
	require.NoError(t, err)
	assert.Equal(t, "contract", f.Category)

	assert.Equal(t, "permanent", failure(t, "hud", 1).Category)
}

func TestRecord_ParksAtMaxAttempts(t *testing.T) {
	var parked []string
	s := deadletter.New(deadletter.Config{
		MaxAttempts: 2,
		OnPark:      func(f *deadletter.FailedDispatch) { parked = append(parked, f.Listener) },
	})
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, failure(t, "hud", 1)))
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Record(ctx, failure(t, "hud", 1)))

	assert.Zero(t, s.Len())
	require.Len(t, s.Parked(), 1)
	assert.Equal(t, []string{"hud"}, parked)

	id := s.Parked()[0].ID
	err := s.Replay(ctx, id, &recordingPoster{})
	assert.True(t, errors.Is(err, cerrors.ErrInvalidArgument))

	require.NoError(t, s.Unpark(id))
	got, ok := s.Get(id)
	require.True(t, ok)
	assert.False(t, got.Parked)
	assert.Zero(t, got.Attempts)
}

func TestRecord_Full(t *testing.T) {
	s := deadletter.New(deadletter.Config{MaxSize: 1})
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, failure(t, "a", 1)))
	err := s.Record(ctx, failure(t, "b", 1))
	assert.True(t, errors.Is(err, cerrors.ErrInvalidArgument))

	// Merging into an existing entry still works when full.
	require.NoError(t, s.Record(ctx, failure(t, "a", 1)))
}

func TestReplay(t *testing.T) {
	s := deadletter.New(deadletter.DefaultConfig)
	ctx := context.Background()
	f := failure(t, "hud", 42)
	require.NoError(t, s.Record(ctx, f))

	p := &recordingPoster{}
	require.NoError(t, s.Replay(ctx, f.ID, p))
	require.Len(t, p.posted, 1)

	v, err := p.posted[0].Int32("value")
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
	assert.Zero(t, s.Stats().Size)
	assert.Equal(t, int64(1), s.Stats().Replayed)

	err = s.Replay(ctx, f.ID, p)
	assert.True(t, errors.Is(err, cerrors.ErrNotFound))
}

func TestReplay_PostFailureKeepsEntry(t *testing.T) {
	s := deadletter.New(deadletter.DefaultConfig)
	ctx := context.Background()
	f := failure(t, "hud", 1)
	require.NoError(t, s.Record(ctx, f))

	err := s.Replay(ctx, f.ID, &recordingPoster{err: errors.New("queue closed")})
	require.Error(t, err)
	_, ok := s.Get(f.ID)
	assert.True(t, ok)
}

func TestParkAndDelete(t *testing.T) {
	s := deadletter.New(deadletter.DefaultConfig)
	ctx := context.Background()
	f := failure(t, "hud", 1)
	require.NoError(t, s.Record(ctx, f))

	require.NoError(t, s.Park(f.ID, "manual"))
	assert.Len(t, s.Parked(), 1)
	assert.True(t, errors.Is(s.Park("missing", "x"), cerrors.ErrNotFound))

	assert.True(t, s.Delete(f.ID))
	assert.False(t, s.Delete(f.ID))

	// The fingerprint is free again.
	require.NoError(t, s.Record(ctx, failure(t, "hud", 1)))
	assert.Equal(t, 1, s.Len())
}

func TestFingerprint(t *testing.T) {
	a := deadletter.Fingerprint("hud", []byte("x"))
	assert.Equal(t, a, deadletter.Fingerprint("hud", []byte("x")))
	assert.NotEqual(t, a, deadletter.Fingerprint("hu", []byte("dx")))
}
