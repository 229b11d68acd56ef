package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/deltalog"
	"github.com/annel0/craft-world/internal/network"
	"github.com/annel0/craft-world/internal/protocol"
	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
	"github.com/annel0/craft-world/internal/world/noise"
)

const radius = 1

func startServer(t *testing.T) *network.Server {
	t.Helper()
	w, err := world.New(context.Background(), noise.New(noise.DefaultConfig()), deltalog.NewMemoryLog())
	require.NoError(t, err)
	s := network.NewServer(w, network.Options{Addr: "127.0.0.1:0", ViewRadius: radius, BatchWindow: -1}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func connect(t *testing.T, s *network.Server) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := Connect(ctx, Options{Addr: s.Addr().String(), ViewRadius: radius})
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

// drainUntil крутит кадры, пока cond не выполнится
func drainUntil(t *testing.T, sess *Session, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, err := sess.Drain()
		require.NoError(t, err)
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("условие не выполнено за отведённое время")
}

func visibleLoaded(sess *Session) func() bool {
	return func() bool {
		if sess.ID() == 0 {
			return false
		}
		for _, cc := range sess.Position().Chunk().Ring(radius) {
			if !sess.Cache().IsResident(cc) {
				return false
			}
		}
		return true
	}
}

func TestSessionLoadsVisibleChunks(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)

	drainUntil(t, sess, visibleLoaded(sess))
	assert.Equal(t, 9, sess.Cache().Len())

	// кэш совпадает с авторитетным миром
	ctx := context.Background()
	spawn := sess.Position().Block()
	below := spawn.Add(vec.Vec3{Y: -1})
	want, err := s.World().BlockAt(ctx, below)
	require.NoError(t, err)
	assert.Equal(t, want, sess.Cache().BlockAt(below))
	assert.NotEqual(t, block.Air, want)
}

func TestSessionTracksServerTime(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)
	drainUntil(t, sess, func() bool { return sess.dayLength > 0 })
	assert.Equal(t, 600.0, sess.dayLength)
	phase := sess.TimeOfDay()
	assert.GreaterOrEqual(t, phase, 0.0)
	assert.Less(t, phase, 1.0)

	local := &Session{}
	assert.Zero(t, local.TimeOfDay(), "до первого E")
	local.apply(protocol.Time{Timestamp: 150, DayLength: 600})
	at := local.timeAt
	assert.InDelta(t, 0.25, local.timeOfDay(at), 1e-9)
	assert.InDelta(t, 0.5, local.timeOfDay(at.Add(150*time.Second)), 1e-9)
	assert.InDelta(t, 0.0, local.timeOfDay(at.Add(450*time.Second)), 1e-9)
}

func TestSessionPlaceIsVisibleAfterDrain(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)
	drainUntil(t, sess, visibleLoaded(sess))

	pos := sess.Position().Block()
	require.NoError(t, sess.Place(pos, block.Of(block.Brick)))
	drainUntil(t, sess, func() bool { return sess.Cache().BlockAt(pos) == block.Of(block.Brick) })

	seq, ok := sess.Cache().HeldSeq(pos.Chunk())
	require.True(t, ok)
	assert.Equal(t, s.World().LastSeq(), seq)

	require.NoError(t, sess.Break(pos))
	drainUntil(t, sess, func() bool { return sess.Cache().BlockAt(pos) == block.Air })
}

func TestSessionSeesOtherPlayers(t *testing.T) {
	s := startServer(t)
	a := connect(t, s)
	drainUntil(t, a, func() bool { return a.ID() != 0 })

	b := connect(t, s)
	drainUntil(t, b, func() bool { return b.ID() != 0 })
	require.NoError(t, b.Say("/nick bob"))

	drainUntil(t, a, func() bool {
		p, ok := a.Players()[b.ID()]
		return ok && p.Name == "bob"
	})

	require.NoError(t, b.Say("hello"))
	drainUntil(t, a, func() bool {
		chat := a.Chat()
		return len(chat) > 0 && chat[len(chat)-1] == "bob> hello"
	})

	b.Close()
	drainUntil(t, a, func() bool {
		_, ok := a.Players()[b.ID()]
		return !ok
	})
}

func TestSessionRejectOutsideSubscription(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)
	drainUntil(t, sess, visibleLoaded(sess))

	far := vec.Vec3{X: 10 * vec.ChunkSize, Y: 50, Z: 0}
	require.NoError(t, sess.Place(far, block.Of(block.Stone)))
	drainUntil(t, sess, func() bool { return len(sess.Rejects()) == 1 })
	assert.Equal(t, network.RejectDesync, sess.Rejects()[0].Reason)
}

func TestSessionReconnectRefetches(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)
	drainUntil(t, sess, visibleLoaded(sess))
	firstID := sess.ID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sess.Reconnect(ctx))
	assert.Zero(t, sess.Cache().Len())

	drainUntil(t, sess, visibleLoaded(sess))
	assert.NotEqual(t, firstID, sess.ID())
}

func TestSessionNoticesServerShutdown(t *testing.T) {
	s := startServer(t)
	sess := connect(t, s)
	drainUntil(t, sess, func() bool { return sess.ID() != 0 })

	require.NoError(t, s.Close())
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := sess.Drain(); err != nil {
			assert.True(t, errors.Is(err, ErrDisconnected))
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("разрыв не замечен")
}
