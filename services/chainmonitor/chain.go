package chainmonitor

import (
	"slices"

	"github.com/nodekeeper/nodekeeper/rpc"
)

// Chain is a window of DAA buckets. After every AddBlock the newest and oldest retained scores are
// at most window apart; evicted buckets take their blocks out of the hash index. Chain is not safe
// for concurrent use.
type Chain struct {
	window   uint64
	settings GraphSettings

	buckets map[uint64]*DaaBucket
	scores  []uint64
	index   map[rpc.Hash]*DaaBucket
}

func NewChain(window uint64, gs GraphSettings) *Chain {
	return &Chain{
		window:   window,
		settings: gs,
		buckets:  make(map[uint64]*DaaBucket),
		index:    make(map[rpc.Hash]*DaaBucket),
	}
}

// AddBlock inserts a block into its bucket and returns the number of buckets evicted.
// Duplicates and blocks already older than the window are ignored.
func (c *Chain) AddBlock(block *rpc.Block) int {
	if block == nil {
		return 0
	}

	hash := block.Header.Hash
	if _, ok := c.index[hash]; ok {
		return 0
	}

	score := block.Header.DAAScore

	if newest, ok := c.NewestScore(); ok && score < newest && newest-score > c.window {
		return 0
	}

	dagBlock := newDagBlock(block, c.settings)

	if bucket, ok := c.buckets[score]; ok {
		bucket.push(dagBlock, c.settings)
		c.index[hash] = bucket

		return 0
	}

	bucket := newDaaBucket(score, dagBlock)
	c.buckets[score] = bucket
	c.index[hash] = bucket

	pos, _ := slices.BinarySearch(c.scores, score)
	c.scores = slices.Insert(c.scores, pos, score)

	return c.evict()
}

func (c *Chain) evict() int {
	newest := c.scores[len(c.scores)-1]

	n := 0
	for n < len(c.scores) && newest-c.scores[n] > c.window {
		bucket := c.buckets[c.scores[n]]
		for _, block := range bucket.Blocks {
			delete(c.index, block.Hash())
		}

		delete(c.buckets, c.scores[n])
		n++
	}

	if n > 0 {
		c.scores = slices.Delete(c.scores, 0, n)
	}

	return n
}

// ApplyVirtualChainChanged clears the VSPC flag of removed hashes then sets it on added ones.
// Hashes outside the window are skipped; the number of blocks updated is returned.
func (c *Chain) ApplyVirtualChainChanged(removed, added []rpc.Hash) int {
	applied := 0

	for _, hash := range removed {
		if bucket, ok := c.index[hash]; ok && bucket.setVSPC(hash, false, c.settings) {
			applied++
		}
	}

	for _, hash := range added {
		if bucket, ok := c.index[hash]; ok && bucket.setVSPC(hash, true, c.settings) {
			applied++
		}
	}

	return applied
}

// UpdateSettings relayouts every bucket without touching block data.
func (c *Chain) UpdateSettings(gs GraphSettings) {
	c.settings = gs

	for _, score := range c.scores {
		c.buckets[score].reset(gs)
	}
}

func (c *Chain) Settings() GraphSettings {
	return c.settings
}

// Reset drops every bucket.
func (c *Chain) Reset() {
	clear(c.buckets)
	clear(c.index)
	c.scores = c.scores[:0]
}

func (c *Chain) Window() uint64 {
	return c.window
}

func (c *Chain) Len() int {
	return len(c.scores)
}

func (c *Chain) BlockCount() int {
	return len(c.index)
}

func (c *Chain) OldestScore() (uint64, bool) {
	if len(c.scores) == 0 {
		return 0, false
	}

	return c.scores[0], true
}

func (c *Chain) NewestScore() (uint64, bool) {
	if len(c.scores) == 0 {
		return 0, false
	}

	return c.scores[len(c.scores)-1], true
}

// Scores returns the retained bucket scores in ascending order.
func (c *Chain) Scores() []uint64 {
	return slices.Clone(c.scores)
}

func (c *Chain) HasBucket(score uint64) bool {
	_, ok := c.buckets[score]
	return ok
}

func (c *Chain) Contains(hash rpc.Hash) bool {
	_, ok := c.index[hash]
	return ok
}

// IsVSPC reports whether a retained block is on the virtual selected parent chain.
func (c *Chain) IsVSPC(hash rpc.Hash) bool {
	bucket, ok := c.index[hash]
	if !ok {
		return false
	}

	block := bucket.find(hash)

	return block != nil && block.VSPC
}

// VSPCSet returns every retained chain block.
func (c *Chain) VSPCSet() map[rpc.Hash]struct{} {
	set := make(map[rpc.Hash]struct{})

	for _, score := range c.scores {
		for _, block := range c.buckets[score].Blocks {
			if block.VSPC {
				set[block.Hash()] = struct{}{}
			}
		}
	}

	return set
}

// Render advances the animation by one frame and returns every block, oldest bucket first.
func (c *Chain) Render() []RenderedBlock {
	out := make([]RenderedBlock, 0, len(c.index))

	for _, score := range c.scores {
		out = c.buckets[score].render(out)
	}

	return out
}
