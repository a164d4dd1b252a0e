package dynarec

import (
	"fmt"
	"sort"

	"despair/pkg/codebuf"
)

// Block is a compiled basic block: native code for the bytecode run
// [Start, End). End is the address of the control-flow instruction (or the
// undecodable instruction) that terminated the run.
type Block struct {
	Start int64
	End   int64
	Insts int
	buf   *codebuf.Buffer
}

// Entry returns the address of the first native instruction.
func (b *Block) Entry() uintptr {
	return b.buf.Addr()
}

// Code returns the finalized machine code.
func (b *Block) Code() []byte {
	return b.buf.Bytes()
}

func (b *Block) free() error {
	if b.buf == nil {
		return nil
	}
	err := b.buf.Free()
	b.buf = nil
	return err
}

// Cache maps bytecode start addresses to compiled blocks for one core.
// Blocks are never replaced or evicted.
type Cache struct {
	blocks map[int64]*Block
}

func NewCache() *Cache {
	return &Cache{blocks: make(map[int64]*Block)}
}

func (c *Cache) Find(pc int64) (*Block, bool) {
	b, ok := c.blocks[pc]
	return b, ok
}

// Insert adds b under pc. A second insert for the same address means the
// dispatch loop compiled a block it already had, so it panics.
func (c *Cache) Insert(pc int64, b *Block) {
	if _, ok := c.blocks[pc]; ok {
		panic(fmt.Sprintf("dynarec: block %#x already cached", pc))
	}
	c.blocks[pc] = b
}

func (c *Cache) Len() int {
	return len(c.blocks)
}

// Starts returns every cached start address in ascending order.
func (c *Cache) Starts() []int64 {
	starts := make([]int64, 0, len(c.blocks))
	for pc := range c.blocks {
		starts = append(starts, pc)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}

// CodeBytes returns the total size of cached machine code.
func (c *Cache) CodeBytes() int {
	n := 0
	for _, b := range c.blocks {
		if b.buf != nil {
			n += b.buf.Len()
		}
	}
	return n
}

// Close releases every block's code buffer.
func (c *Cache) Close() error {
	var first error
	for pc, b := range c.blocks {
		if err := b.free(); err != nil && first == nil {
			first = fmt.Errorf("freeing block %#x: %w", pc, err)
		}
	}
	c.blocks = make(map[int64]*Block)
	return first
}
