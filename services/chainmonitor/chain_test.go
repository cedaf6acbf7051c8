package chainmonitor

import (
	"encoding/binary"
	"testing"

	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testGraph = GraphSettings{YScale: 10, YDist: 7, BalanceVSPC: true, ResetVSPC: true}

func hashOf(score uint64, i int) rpc.Hash {
	var h rpc.Hash
	binary.LittleEndian.PutUint64(h[:8], score*1_000_003+uint64(i)*7919)
	binary.LittleEndian.PutUint64(h[8:16], score)
	h[16] = byte(i)

	return h
}

func blockAt(score uint64, i int) *rpc.Block {
	return &rpc.Block{Header: rpc.BlockHeader{Hash: hashOf(score, i), DAAScore: score}}
}

func TestChain_EvictsOutsideWindow(t *testing.T) {
	c := NewChain(20, testGraph)

	for score := uint64(1); score <= 100; score++ {
		c.AddBlock(blockAt(score, 0))

		oldest, _ := c.OldestScore()
		newest, _ := c.NewestScore()
		require.LessOrEqual(t, newest-oldest, uint64(20))
	}

	for score := uint64(1); score <= 79; score++ {
		assert.False(t, c.HasBucket(score), "bucket %d should be evicted", score)
		assert.False(t, c.Contains(hashOf(score, 0)))
	}

	for score := uint64(80); score <= 100; score++ {
		assert.True(t, c.HasBucket(score), "bucket %d should be retained", score)
	}

	assert.Equal(t, 21, c.Len())
	assert.Equal(t, 21, c.BlockCount())
}

func TestChain_EvictedHashIsIgnored(t *testing.T) {
	c := NewChain(20, testGraph)

	for score := uint64(1); score <= 100; score++ {
		c.AddBlock(blockAt(score, 0))
	}

	before := c.Scores()
	vspcBefore := c.VSPCSet()

	applied := c.ApplyVirtualChainChanged([]rpc.Hash{hashOf(5, 0)}, []rpc.Hash{hashOf(10, 0)})

	assert.Equal(t, 0, applied)
	assert.Equal(t, before, c.Scores())
	assert.Equal(t, vspcBefore, c.VSPCSet())
}

func TestChain_ParallelBlocksShareBucket(t *testing.T) {
	c := NewChain(10, testGraph)

	assert.Equal(t, 0, c.AddBlock(blockAt(5, 0)))
	assert.Equal(t, 0, c.AddBlock(blockAt(5, 1)))
	assert.Equal(t, 0, c.AddBlock(blockAt(5, 2)))
	assert.Equal(t, 0, c.AddBlock(blockAt(5, 2)))

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 3, c.BlockCount())
}

func TestChain_LateBlocks(t *testing.T) {
	c := NewChain(10, testGraph)

	c.AddBlock(blockAt(50, 0))
	c.AddBlock(blockAt(45, 0))
	c.AddBlock(blockAt(30, 0))

	assert.Equal(t, []uint64{45, 50}, c.Scores())

	assert.Equal(t, 1, c.AddBlock(blockAt(56, 0)))
	assert.Equal(t, []uint64{50, 56}, c.Scores())

	assert.Equal(t, 0, c.AddBlock(nil))
}

func TestChain_VSPCFollowsAddedMinusRemoved(t *testing.T) {
	c := NewChain(100, testGraph)

	for score := uint64(1); score <= 10; score++ {
		c.AddBlock(blockAt(score, 0))
		c.AddBlock(blockAt(score, 1))
	}

	added := []rpc.Hash{hashOf(1, 0), hashOf(2, 0), hashOf(3, 1), hashOf(4, 0)}
	assert.Equal(t, 4, c.ApplyVirtualChainChanged(nil, added))

	removed := []rpc.Hash{hashOf(4, 0)}
	readded := []rpc.Hash{hashOf(4, 1)}
	c.ApplyVirtualChainChanged(removed, readded)
	c.ApplyVirtualChainChanged(removed, readded)

	want := map[rpc.Hash]struct{}{
		hashOf(1, 0): {},
		hashOf(2, 0): {},
		hashOf(3, 1): {},
		hashOf(4, 1): {},
	}
	assert.Equal(t, want, c.VSPCSet())

	assert.True(t, c.IsVSPC(hashOf(3, 1)))
	assert.False(t, c.IsVSPC(hashOf(3, 0)))
	assert.False(t, c.IsVSPC(hashOf(99, 0)))
}

func TestChain_BalanceSpacesAroundChainBlock(t *testing.T) {
	c := NewChain(10, testGraph)

	for i := 0; i < 3; i++ {
		c.AddBlock(blockAt(7, i))
	}

	c.ApplyVirtualChainChanged(nil, []rpc.Hash{hashOf(7, 1)})

	bucket := c.buckets[7]
	vspcIdx := -1

	for i, b := range bucket.Blocks {
		if b.VSPC {
			vspcIdx = i
		}
	}

	require.GreaterOrEqual(t, vspcIdx, 0)

	for i := 1; i < len(bucket.Blocks); i++ {
		assert.InDelta(t, testGraph.YDist, bucket.Blocks[i].DstY-bucket.Blocks[i-1].DstY, 1e-9)
	}
}

func TestChain_CenterVSPC(t *testing.T) {
	gs := testGraph
	gs.CenterVSPC = true

	c := NewChain(10, gs)

	for i := 0; i < 5; i++ {
		c.AddBlock(blockAt(3, i))
	}

	c.ApplyVirtualChainChanged(nil, []rpc.Hash{hashOf(3, 4)})

	bucket := c.buckets[3]
	mid := bucket.Blocks[len(bucket.Blocks)/2]

	assert.True(t, mid.VSPC)
	assert.InDelta(t, 0, mid.DstY, 1e-9)
}

func TestChain_UpdateSettingsKeepsBlocks(t *testing.T) {
	c := NewChain(10, testGraph)

	for score := uint64(1); score <= 5; score++ {
		c.AddBlock(blockAt(score, 0))
		c.AddBlock(blockAt(score, 1))
	}

	c.ApplyVirtualChainChanged(nil, []rpc.Hash{hashOf(2, 0)})

	gs := testGraph
	gs.YDist = 20
	c.UpdateSettings(gs)

	assert.Equal(t, gs, c.Settings())
	assert.Equal(t, 10, c.BlockCount())
	assert.True(t, c.IsVSPC(hashOf(2, 0)))

	b := c.buckets[3].Blocks
	assert.InDelta(t, 20, b[1].DstY-b[0].DstY, 1e-9)
}

func TestChain_RenderSettles(t *testing.T) {
	c := NewChain(10, testGraph)

	c.AddBlock(blockAt(1, 0))
	c.AddBlock(blockAt(1, 1))

	var frame []RenderedBlock
	for i := 0; i < 500; i++ {
		frame = c.Render()
	}

	require.Len(t, frame, 2)

	for _, rb := range frame {
		assert.True(t, rb.Settled)
		assert.InDelta(t, 1.0, rb.X, 1e-9)
	}

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.Render())
}

func TestHashToY(t *testing.T) {
	var lo, hi rpc.Hash
	hi[0], hi[1] = 0xff, 0xff

	assert.InDelta(t, -10, HashToY(lo, 10), 1e-3)
	assert.InDelta(t, 10, HashToY(hi, 10), 1e-3)
}
