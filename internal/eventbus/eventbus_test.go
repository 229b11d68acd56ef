package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeRoundTrip(t *testing.T) {
	ev, err := NewEnvelope(TypeEditApplied, "node-1", EditApplied{Seq: 7, X: 1, Y: 2, Z: -3, Material: 12, Author: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, TypeEditApplied, ev.EventType)
	assert.Equal(t, 1, ev.Version)

	var got EditApplied
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, uint64(7), got.Seq)
	assert.Equal(t, -3, got.Z)

	other, err := NewEnvelope(TypeEditApplied, "node-1", got)
	require.NoError(t, err)
	assert.NotEqual(t, ev.ID, other.ID)
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	edits := make(chan *Envelope, 4)
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{TypeEditApplied}}, func(ctx context.Context, ev *Envelope) {
		edits <- ev
	})
	require.NoError(t, err)

	chat, err := NewEnvelope(TypeChat, "n", Chat{ID: 1, Text: "hi"})
	require.NoError(t, err)
	edit, err := NewEnvelope(TypeEditApplied, "n", EditApplied{Seq: 1})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), chat))
	require.NoError(t, bus.Publish(context.Background(), edit))

	select {
	case ev := <-edits:
		assert.Equal(t, edit.ID, ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("событие не доставлено")
	}

	select {
	case ev := <-edits:
		t.Fatalf("лишнее событие %s", ev.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	got := make(chan struct{}, 4)
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		got <- struct{}{}
	})
	require.NoError(t, err)
	sub.Unsubscribe()

	ev, err := NewEnvelope(TypePlayerLeft, "n", PlayerLeft{ID: 3})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), ev))
	require.NoError(t, bus.Close())

	assert.Len(t, got, 0)
	assert.Equal(t, uint64(1), bus.Metrics().Published)
	assert.Equal(t, uint64(0), bus.Metrics().Consumed)
}

func TestMemoryBusCloseDrains(t *testing.T) {
	bus := NewMemoryBus(64)
	got := make(chan struct{}, 64)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		got <- struct{}{}
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ev, err := NewEnvelope(TypeChat, "n", Chat{ID: 1, Text: "x"})
		require.NoError(t, err)
		require.NoError(t, bus.Publish(context.Background(), ev))
	}
	require.NoError(t, bus.Close())
	assert.Len(t, got, 10)
	assert.Equal(t, uint64(10), bus.Metrics().Consumed)

	ev, err := NewEnvelope(TypeChat, "n", Chat{})
	require.NoError(t, err)
	assert.ErrorIs(t, bus.Publish(context.Background(), ev), ErrClosed)
	assert.NoError(t, bus.Close())
}
