package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/craft-world/internal/vec"
	"github.com/annel0/craft-world/internal/world"
	"github.com/annel0/craft-world/internal/world/block"
)

func TestEncodeLines(t *testing.T) {
	cases := []struct {
		msg  Message
		want string
	}{
		{Hello{Version: 1}, "V 1\n"},
		{EditRequest{Pos: vec.Vec3{X: 0, Y: 10, Z: -3}, Block: block.Of(block.Glass)}, "B 0 10 -3 10 0\n"},
		{BlockDelta{Pos: vec.Vec3{X: 5, Y: 1, Z: 2}, Block: block.New(block.Stone, block.FlagLight), Seq: 42}, "B 5 1 2 3 1 42\n"},
		{ChunkRequest{Coords: vec.ChunkCoord{P: 2, Q: -1}}, "C 2 -1\n"},
		{ChunkRequest{Coords: vec.ChunkCoord{P: 2, Q: -1}, Seq: 9, HasSeq: true}, "C 2 -1 9\n"},
		{Move{Pos: vec.Vec3Float{X: 1.5, Y: 20, Z: -0.25}, RX: 3.14, RY: 0}, "P 1.5 20 -0.25 3.14 0\n"},
		{PlayerMove{ID: 3, Pos: vec.Vec3Float{X: 1, Y: 2, Z: 3}}, "P 3 1 2 3 0 0\n"},
		{Nick{ID: 3, Name: "alice"}, "N 3 alice\n"},
		{Gone{ID: 3}, "D 3\n"},
		{Talk{Text: "привет\nмир"}, "T привет мир\n"},
		{Reject{Pos: vec.Vec3{X: 1, Y: 2, Z: 3}, Reason: "persistence"}, "X 1 2 3 persistence\n"},
		{Time{Timestamp: 1234.5, DayLength: 600}, "E 1234.5 600\n"},
		{Dump{world.ChunkDump{Coords: vec.ChunkCoord{P: 0, Q: 0}, Seq: 2, Runs: []world.Run{
			{LX: 0, LZ: 0, Y: 0, Count: 10, Block: block.Of(block.Stone)},
			{LX: 0, LZ: 0, Y: 10, Count: 1, Block: block.Of(block.Glass)},
		}}}, "K 0 0 2 0,0,0,10,3,0 0,0,10,1,10,0\n"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, string(Encode(c.msg)))
	}
}

func TestParseClient(t *testing.T) {
	m, err := ParseClient([]byte("B -4 12 7 10 1\n"))
	require.NoError(t, err)
	assert.Equal(t, EditRequest{Pos: vec.Vec3{X: -4, Y: 12, Z: 7}, Block: block.New(block.Glass, block.FlagLight)}, m)

	m, err = ParseClient([]byte("C 2 -1 17"))
	require.NoError(t, err)
	assert.Equal(t, ChunkRequest{Coords: vec.ChunkCoord{P: 2, Q: -1}, Seq: 17, HasSeq: true}, m)

	m, err = ParseClient([]byte("P 1.5 2 3 0.1 0.2"))
	require.NoError(t, err)
	assert.Equal(t, Move{Pos: vec.Vec3Float{X: 1.5, Y: 2, Z: 3}, RX: 0.1, RY: 0.2}, m)

	m, err = ParseClient([]byte("T /nick bob the builder"))
	require.NoError(t, err)
	assert.Equal(t, Talk{Text: "/nick bob the builder"}, m)

	m, err = ParseClient([]byte("V 1"))
	require.NoError(t, err)
	assert.Equal(t, Hello{Version: 1}, m)
}

func TestParseServerDump(t *testing.T) {
	line := "K -1 3 88 0,0,0,10,3,0 31,31,5,2,15,0\n"
	m, err := ParseServer([]byte(line))
	require.NoError(t, err)
	d, ok := m.(Dump)
	require.True(t, ok)
	assert.Equal(t, vec.ChunkCoord{P: -1, Q: 3}, d.Coords)
	assert.Equal(t, uint64(88), d.Seq)
	require.Len(t, d.Runs, 2)
	assert.Equal(t, world.Run{LX: 31, LZ: 31, Y: 5, Count: 2, Block: block.Of(block.Leaves)}, d.Runs[1])

	// Пустой чанк: дамп без серий
	m, err = ParseServer([]byte("K 0 0 0"))
	require.NoError(t, err)
	assert.Empty(t, m.(Dump).Runs)
}

func TestParseServerMessages(t *testing.T) {
	m, err := ParseServer([]byte("U 7 0.5 30 0.5 0 0"))
	require.NoError(t, err)
	assert.Equal(t, You{ID: 7, Pos: vec.Vec3Float{X: 0.5, Y: 30, Z: 0.5}}, m)

	m, err = ParseServer([]byte("B 0 10 0 10 0 2"))
	require.NoError(t, err)
	assert.Equal(t, BlockDelta{Pos: vec.Vec3{X: 0, Y: 10, Z: 0}, Block: block.Of(block.Glass), Seq: 2}, m)

	m, err = ParseServer([]byte("X 0 10 0 вне подписки"))
	require.NoError(t, err)
	assert.Equal(t, Reject{Pos: vec.Vec3{X: 0, Y: 10, Z: 0}, Reason: "вне подписки"}, m)

	m, err = ParseServer([]byte("N 2 the builder"))
	require.NoError(t, err)
	assert.Equal(t, Nick{ID: 2, Name: "the builder"}, m)

	m, err = ParseServer([]byte("E 90.25 600"))
	require.NoError(t, err)
	assert.Equal(t, Time{Timestamp: 90.25, DayLength: 600}, m)
}

func TestParseErrors(t *testing.T) {
	malformed := []string{
		"",
		"B 1 2",
		"B 1 2 3 99 0",
		"B 1 2 3 1 128",
		"B 1 2 3 -1 0",
		"B x 2 3 1 0",
		"B 1 2 3 1 0 extra",
		"P 1 2 3 NaN 0",
		"P 1 2 3 +Inf 0",
		"C 1",
		"C 1 2 -5",
		"V",
		"B 99999999999999999999999 0 0 1 0",
	}
	for _, line := range malformed {
		_, err := ParseClient([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, "строка %q", line)
	}

	for _, line := range []string{"Z 1 2", "BB 1 2 3 1 0", "K 0 0 0"} {
		_, err := ParseClient([]byte(line))
		assert.ErrorIs(t, err, ErrUnknownTag, "строка %q", line)
	}

	for _, line := range []string{"K 0 0 1 32,0,0,1,3,0", "K 0 0 1 0,0,0,0,3,0", "K 0 0 1 0,0,0,1,3", "K 0 0 1 0,0,9223372036854775807,2,3,0", "E 1", "E 1 0", "E 1 -600", "E 1 NaN", "E 1 600 2"} {
		_, err := ParseServer([]byte(line))
		assert.ErrorIs(t, err, ErrMalformed, "строка %q", line)
	}
}

func TestDumpRoundTripThroughChunk(t *testing.T) {
	c := world.NewChunk(vec.ChunkCoord{P: 4, Q: -7})
	ox, oz := c.Coords.Origin()
	c.SetBlock(vec.Vec3{X: ox + 1, Y: 3, Z: oz + 2}, block.Of(block.Wood))
	c.SetBlock(vec.Vec3{X: ox + 1, Y: 4, Z: oz + 2}, block.Of(block.Wood))
	c.SetBlock(vec.Vec3{X: ox + 9, Y: -2, Z: oz + 30}, block.New(block.LightStone, block.FlagLight))

	line := Encode(Dump{world.ChunkDump{Coords: c.Coords, Seq: 5, Runs: c.Runs()}})
	m, err := ParseServer(line)
	require.NoError(t, err)

	cp := world.NewChunk(c.Coords)
	require.NoError(t, cp.LoadRuns(m.(Dump).Runs, m.(Dump).Seq))
	assert.Equal(t, c.BlockCount(), cp.BlockCount())
	assert.Equal(t, block.New(block.LightStone, block.FlagLight), cp.Block(vec.Vec3{X: ox + 9, Y: -2, Z: oz + 30}))
}
