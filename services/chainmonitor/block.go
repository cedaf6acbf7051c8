package chainmonitor

import (
	"sort"

	"github.com/nodekeeper/nodekeeper/rpc"
	"github.com/nodekeeper/nodekeeper/settings"
)

// settleThreshold is the distance below which a block is considered to have reached its target.
const settleThreshold = 0.001

// GraphSettings controls the vertical layout of blocks within a DAA bucket.
type GraphSettings struct {
	YScale      float64
	YDist       float64
	Noise       float64
	CenterVSPC  bool
	BalanceVSPC bool
	ResetVSPC   bool
}

func NewGraphSettings(s settings.ChainMonitorSettings) GraphSettings {
	return GraphSettings{
		YScale:      s.YScale,
		YDist:       s.YDist,
		Noise:       s.Noise,
		CenterVSPC:  s.CenterVSPC,
		BalanceVSPC: s.BalanceVSPC,
		ResetVSPC:   s.ResetVSPC,
	}
}

// HashToY maps the first two bytes of a hash onto [-scale, scale].
func HashToY(h rpc.Hash, scale float64) float64 {
	return (float64(h.Uint16()) - 32767.5) / 32767.5 * scale
}

// DagBlock is a block with its render state. SrcY animates towards DstY.
type DagBlock struct {
	Block   *rpc.Block
	SrcY    float64
	DstY    float64
	OffsetY float64
	VSPC    bool
	Settled bool
}

func newDagBlock(block *rpc.Block, gs GraphSettings) *DagBlock {
	y := HashToY(block.Header.Hash, gs.YScale)

	return &DagBlock{
		Block:   block,
		SrcY:    y,
		DstY:    y,
		OffsetY: y,
	}
}

func (b *DagBlock) Hash() rpc.Hash {
	return b.Block.Header.Hash
}

// DaaBucket holds the blocks sharing one DAA score.
type DaaBucket struct {
	DAAScore uint64
	Blocks   []*DagBlock
}

func newDaaBucket(score uint64, block *DagBlock) *DaaBucket {
	return &DaaBucket{DAAScore: score, Blocks: []*DagBlock{block}}
}

func (b *DaaBucket) push(block *DagBlock, gs GraphSettings) {
	b.Blocks = append(b.Blocks, block)
	b.reset(gs)
}

func (b *DaaBucket) find(hash rpc.Hash) *DagBlock {
	for _, block := range b.Blocks {
		if block.Hash() == hash {
			return block
		}
	}

	return nil
}

// setVSPC flips the chain membership of one block in place and relayouts the bucket.
func (b *DaaBucket) setVSPC(hash rpc.Hash, flag bool, gs GraphSettings) bool {
	block := b.find(hash)
	if block == nil {
		return false
	}

	block.VSPC = flag
	block.Settled = false

	if flag && gs.CenterVSPC {
		block.DstY = 0
	} else {
		block.DstY = HashToY(block.Hash(), gs.YScale)
	}

	b.update(gs)

	return true
}

func (b *DaaBucket) reset(gs GraphSettings) {
	if gs.ResetVSPC {
		for _, block := range b.Blocks {
			block.Settled = false

			if block.VSPC && gs.CenterVSPC {
				block.DstY = 0
			} else {
				block.DstY = HashToY(block.Hash(), gs.YScale)
			}
		}
	}

	b.update(gs)
}

// update recomputes DstY for every block. With BalanceVSPC the chain block anchors the bucket and
// the others are spaced YDist apart on either side of it.
func (b *DaaBucket) update(gs GraphSettings) {
	sort.SliceStable(b.Blocks, func(i, j int) bool {
		return b.Blocks[i].DstY < b.Blocks[j].DstY
	})

	n := len(b.Blocks)

	if !gs.BalanceVSPC {
		for _, block := range b.Blocks {
			block.DstY = HashToY(block.Hash(), gs.YScale) * gs.YDist * 0.3
		}

		return
	}

	vspcIdx := -1

	for i, block := range b.Blocks {
		if block.VSPC {
			vspcIdx = i
			break
		}
	}

	if vspcIdx < 0 {
		if n > 1 {
			y := -(float64(n) * gs.YDist / 2)

			for _, block := range b.Blocks {
				y += gs.YDist
				block.DstY = y + block.OffsetY*gs.Noise
			}
		}

		return
	}

	if gs.CenterVSPC && n > 2 {
		mid := n / 2
		if vspcIdx != mid {
			b.Blocks[vspcIdx], b.Blocks[mid] = b.Blocks[mid], b.Blocks[vspcIdx]
			vspcIdx = mid

			for _, block := range b.Blocks {
				block.Settled = false
			}
		}
	}

	vspcY := b.Blocks[vspcIdx].DstY
	if gs.CenterVSPC {
		vspcY = 0
	}

	y := vspcY
	for i := vspcIdx - 1; i >= 0; i-- {
		y -= gs.YDist
		b.Blocks[i].DstY = y - b.Blocks[i].OffsetY*gs.Noise
	}

	y = vspcY
	for i := vspcIdx + 1; i < n; i++ {
		y += gs.YDist
		b.Blocks[i].DstY = y + b.Blocks[i].OffsetY*gs.Noise
	}
}

// RenderedBlock is one frame's view of a block.
type RenderedBlock struct {
	Hash    rpc.Hash
	Parents []rpc.Hash
	X       float64
	Y       float64
	VSPC    bool
	Settled bool
}

// render emits the current position of every block and moves SrcY a tenth of the way to DstY.
func (b *DaaBucket) render(out []RenderedBlock) []RenderedBlock {
	for _, block := range b.Blocks {
		y := block.SrcY

		if !block.Settled {
			dist := block.SrcY - block.DstY
			block.SrcY -= dist * 0.1

			if dist < settleThreshold && dist > -settleThreshold {
				block.Settled = true
			}
		}

		out = append(out, RenderedBlock{
			Hash:    block.Hash(),
			Parents: block.Block.Header.ParentHashes,
			X:       float64(b.DAAScore),
			Y:       y,
			VSPC:    block.VSPC,
			Settled: block.Settled,
		})
	}

	return out
}
