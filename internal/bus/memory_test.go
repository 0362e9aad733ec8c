package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(ch Channel) (<-chan map[string]any, func()) {
	out := make(chan map[string]any, 128)
	cancel := ch.Subscribe(func(msg map[string]any) {
		out <- msg
	})
	return out, cancel
}

func receiveOne(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertSilent(t *testing.T, ch <-chan map[string]any) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message: %v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusFanOut(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	c := b.Open("player")
	defer a.Close()
	defer c.Close()

	got, _ := collect(c)

	require.NoError(t, a.Publish(map[string]any{"type": "play"}))

	msg := receiveOne(t, got)
	assert.Equal(t, "play", msg["type"])
}

func TestMemoryBusNoSelfDelivery(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	c := b.Open("player")
	defer a.Close()
	defer c.Close()

	own, _ := collect(a)
	peer, _ := collect(c)

	require.NoError(t, a.Publish(map[string]any{"type": "pause"}))

	receiveOne(t, peer)
	assertSilent(t, own)
}

func TestMemoryBusPerSenderOrder(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	c := b.Open("player")
	defer a.Close()
	defer c.Close()

	got, _ := collect(c)

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, a.Publish(map[string]any{"seq": i}))
	}

	for i := 0; i < n; i++ {
		msg := receiveOne(t, got)
		assert.Equal(t, i, msg["seq"], "messages must arrive in publish order")
	}
}

func TestMemoryBusChannelIsolation(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	other := b.Open("cart")
	defer a.Close()
	defer other.Close()

	got, _ := collect(other)

	require.NoError(t, a.Publish(map[string]any{"type": "play"}))
	assertSilent(t, got)
}

func TestMemoryBusDropWithoutSubscriber(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	defer a.Close()

	// No peer subscribed: publish succeeds and the message is gone.
	require.NoError(t, a.Publish(map[string]any{"type": "play"}))

	c := b.Open("player")
	defer c.Close()
	got, _ := collect(c)
	assertSilent(t, got)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	c := b.Open("player")
	defer a.Close()
	defer c.Close()

	got, cancel := collect(c)
	cancel()
	cancel() // unsubscribing twice is harmless

	require.NoError(t, a.Publish(map[string]any{"type": "play"}))
	assertSilent(t, got)
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	c := b.Open("player")

	got, _ := collect(c)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	require.NoError(t, a.Publish(map[string]any{"type": "play"}))
	assertSilent(t, got)

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Publish(map[string]any{"type": "play"}), ErrClosed)
}

func TestMemoryBusReopenAfterRelease(t *testing.T) {
	b := NewMemoryBus()
	a := b.Open("player")
	require.NoError(t, a.Close())

	// The channel name is reusable after all handles are gone.
	x := b.Open("player")
	y := b.Open("player")
	defer x.Close()
	defer y.Close()

	got, _ := collect(y)
	require.NoError(t, x.Publish(map[string]any{"n": fmt.Sprint(1)}))
	receiveOne(t, got)
}
