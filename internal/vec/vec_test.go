package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChunkedNegative(t *testing.T) {
	assert.Equal(t, 0, Chunked(0))
	assert.Equal(t, 0, Chunked(31))
	assert.Equal(t, 1, Chunked(32))
	assert.Equal(t, -1, Chunked(-1))
	assert.Equal(t, -1, Chunked(-32))
	assert.Equal(t, -2, Chunked(-33))
}

func TestLocalInChunk(t *testing.T) {
	lx, lz := Vec3{X: -1, Y: 5, Z: 33}.Local()
	assert.Equal(t, 31, lx)
	assert.Equal(t, 1, lz)

	assert.Equal(t, ChunkCoord{P: -1, Q: 1}, Vec3{X: -1, Y: 5, Z: 33}.Chunk())
}

func TestRingAndDistance(t *testing.T) {
	c := ChunkCoord{P: 2, Q: -1}
	ring := c.Ring(1)
	assert.Len(t, ring, 9)
	assert.Contains(t, ring, ChunkCoord{P: 3, Q: 0})
	assert.Equal(t, 2, c.ChebyshevTo(ChunkCoord{P: 0, Q: 0}))
}

func TestFaceTangentsAreOrthogonal(t *testing.T) {
	for f := Face(0); f < FaceCount; f++ {
		n := f.Normal()
		u, v := f.Tangents()
		dot := func(a, b Vec3) int { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
		assert.Zero(t, dot(n, u), f.String())
		assert.Zero(t, dot(n, v), f.String())
		assert.Zero(t, dot(u, v), f.String())
	}
}
