package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFeed_PublishSubscribe(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.Subscribe(ctx, "ds")
	require.NoError(t, err)
	other, err := f.Subscribe(ctx, "other")
	require.NoError(t, err)

	require.NoError(t, f.Publish(ctx, Record{ID: "p1", DatasetID: "ds", Kind: KindProfile}))

	select {
	case r := <-ch:
		assert.Equal(t, "p1", r.ID)
		assert.False(t, r.CreatedAt.IsZero())
	case <-time.After(time.Second):
		t.Fatal("record not delivered")
	}
	select {
	case r := <-other:
		t.Fatalf("unexpected record %+v", r)
	default:
	}

	latest, err := f.Latest(ctx, "ds")
	require.NoError(t, err)
	require.Len(t, latest, 1)
}

func TestMemoryFeed_CancelClosesChannel(t *testing.T) {
	f := NewMemoryFeed()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Subscribe(ctx, "ds")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func TestMemoryFeed_SlowSubscriberDisconnected(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	ch, err := f.Subscribe(ctx, "ds")
	require.NoError(t, err)

	for i := 0; i < memFeedBuffer+1; i++ {
		require.NoError(t, f.Publish(ctx, Record{ID: "r", DatasetID: "ds", Kind: KindRule}))
	}

	n := 0
	for range ch {
		n++
	}
	assert.Equal(t, memFeedBuffer, n)

	latest, err := f.Latest(ctx, "ds")
	require.NoError(t, err)
	assert.Len(t, latest, memFeedBuffer+1)
}

func TestMemoryFeed_HistoryBounded(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	for i := 0; i < memFeedHistory+10; i++ {
		require.NoError(t, f.Publish(ctx, Record{ID: "r", DatasetID: "ds", Kind: KindRule}))
	}
	latest, err := f.Latest(ctx, "ds")
	require.NoError(t, err)
	assert.Len(t, latest, memFeedHistory)
}

func TestMemoryFeed_Close(t *testing.T) {
	f := NewMemoryFeed()
	ctx := context.Background()
	ch, err := f.Subscribe(ctx, "ds")
	require.NoError(t, err)

	f.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, f.Publish(ctx, Record{DatasetID: "ds"}), ErrFeedClosed)
	_, err = f.Subscribe(ctx, "ds")
	assert.ErrorIs(t, err, ErrFeedClosed)
}
