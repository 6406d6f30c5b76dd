package queue_test

import (
	"context"
	"errors"
	"testing"

	cerrors "github.com/randalmurphal/capsule/pkg/capsule/errors"
	"github.com/randalmurphal/capsule/pkg/capsule/event"
	"github.com/randalmurphal/capsule/pkg/capsule/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCord_InsertOrder(t *testing.T) {
	q := queue.New()
	tr := &trace{}
	c := q.Cord(1, 2)
	assert.Same(t, c, q.Cord(1, 2))

	require.NoError(t, c.Insert("A", tr.handler("A", queue.NotInterested), queue.After, ""))
	require.NoError(t, c.Insert("B", tr.handler("B", queue.NotInterested), queue.Before, "A"))
	require.NoError(t, c.Insert("C", tr.handler("C", queue.NotInterested), queue.After, "A"))
	assert.Equal(t, []string{"B", "A", "C"}, c.Names())

	require.NoError(t, q.Dispatch(context.Background(), event.New(event.TypeCommand, event.WithCategory(1, 2))))
	assert.Equal(t, []string{"B", "A", "C"}, tr.get())

	require.NoError(t, c.Insert("head", tr.handler("head", queue.NotInterested), queue.Before, ""))
	assert.Equal(t, []string{"head", "B", "A", "C"}, c.Names())
}

func TestCord_InsertErrors(t *testing.T) {
	c := queue.New().Cord(0, 0)
	h := queue.HandlerFunc(func(context.Context, *event.Event) (queue.Result, error) {
		return queue.NotInterested, nil
	})

	require.NoError(t, c.Insert("a", h, queue.After, ""))
	assert.True(t, errors.Is(c.Insert("a", h, queue.After, ""), cerrors.ErrDuplicateAttribute))
	assert.True(t, errors.Is(c.Insert("b", h, queue.Before, "missing"), cerrors.ErrNotFound))
	assert.True(t, errors.Is(c.Insert("", h, queue.Before, ""), cerrors.ErrInvalidArgument))
	assert.True(t, errors.Is(c.Insert("c", nil, queue.Before, ""), cerrors.ErrInvalidArgument))

	assert.True(t, c.Remove("a"))
	assert.False(t, c.Remove("a"))
	assert.Zero(t, c.Len())
}

func TestCord_PassAndConsume(t *testing.T) {
	q := queue.New()
	tr := &trace{}
	register(t, q, tr.handler("listener", queue.NotInterested), event.MaskAll)

	c := q.Cord(3, 0)
	require.NoError(t, c.Insert("watch", tr.handler("watch", queue.NotInterested), queue.After, ""))
	assert.False(t, c.Pass())
	assert.Equal(t, uint8(3), c.Category())
	assert.Equal(t, uint8(0), c.Subcategory())

	ctx := context.Background()
	inCord := func() *event.Event { return event.New(event.TypeCommand, event.WithCategory(3, 0)) }

	require.NoError(t, q.Dispatch(ctx, inCord()))
	assert.Equal(t, []string{"watch"}, tr.get(), "a closed cord keeps its events")

	c.SetPass(true)
	require.NoError(t, q.Dispatch(ctx, inCord()))
	assert.Equal(t, []string{"watch", "watch", "listener"}, tr.get())

	require.NoError(t, c.Insert("grab", tr.handler("grab", queue.Consumed), queue.Before, ""))
	require.NoError(t, q.Dispatch(ctx, inCord()))
	assert.Equal(t, []string{"watch", "watch", "listener", "grab"}, tr.get())

	require.NoError(t, q.Dispatch(ctx, event.New(event.TypeCommand, event.WithCategory(4, 0))))
	assert.Equal(t, "listener", tr.get()[len(tr.get())-1], "other categories bypass the cord")
}

func TestCord_BroadcastReachesEveryone(t *testing.T) {
	q := queue.New()
	tr := &trace{}
	register(t, q, tr.handler("listener", queue.NotInterested), event.MaskNothing)

	c := q.Cord(0, 0)
	require.NoError(t, c.Insert("grab", tr.handler("grab", queue.Consumed), queue.After, ""))

	require.NoError(t, q.CreateOutlet("sys").ImmediateBroadcast(context.Background(), event.CommandSystemOpen, nil))
	assert.Equal(t, []string{"grab", "listener"}, tr.get())
}

func TestCord_EmptyCordDoesNotBlock(t *testing.T) {
	q := queue.New()
	tr := &trace{}
	register(t, q, tr.handler("listener", queue.NotInterested), event.MaskAll)
	q.Cord(0, 0)

	require.NoError(t, q.Dispatch(context.Background(), event.New(event.TypeCommand)))
	assert.Equal(t, []string{"listener"}, tr.get())
	assert.True(t, q.RemoveCord(0, 0))
	assert.False(t, q.RemoveCord(0, 0))
}
