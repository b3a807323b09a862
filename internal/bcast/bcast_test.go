package bcast

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/require"
)

func testCid(t *testing.T, s string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(s), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, mh)
}

func TestPublishWakesSubscriber(t *testing.T) {
	b := New()
	c := testCid(t, "a")

	ch, cancel := b.Subscribe(context.Background(), c)
	defer cancel()

	b.Publish(c)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber was never woken")
	}
}

func TestPublishOnlyWakesMatchingCid(t *testing.T) {
	b := New()
	a, other := testCid(t, "a"), testCid(t, "b")

	ch, cancel := b.Subscribe(context.Background(), a)
	defer cancel()

	b.Publish(other)

	select {
	case <-ch:
		t.Fatal("subscriber woken for unrelated cid")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelUnregistersSubscriber(t *testing.T) {
	b := New()
	c := testCid(t, "a")

	_, cancel := b.Subscribe(context.Background(), c)
	require.Equal(t, 1, b.NumSubscribers(c))

	cancel()
	require.Equal(t, 0, b.NumSubscribers(c))

	// Calling cancel twice must not panic.
	cancel()
}

func TestContextDoneUnregistersSubscriber(t *testing.T) {
	b := New()
	c := testCid(t, "a")

	ctx, cancel := context.WithCancel(context.Background())
	_, _ = b.Subscribe(ctx, c)
	require.Equal(t, 1, b.NumSubscribers(c))

	cancel()
	require.Eventually(t, func() bool {
		return b.NumSubscribers(c) == 0
	}, time.Second, time.Millisecond)
}

func TestLaggingSubscriberIsSkippedNotBlocked(t *testing.T) {
	b := New()
	c := testCid(t, "a")

	ch, cancel := b.Subscribe(context.Background(), c)
	defer cancel()

	done := make(chan struct{})
	go func() {
		b.Publish(c)
		b.Publish(c) // buffer of 1 is already full; must not block
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a lagging subscriber")
	}
	<-ch
}
