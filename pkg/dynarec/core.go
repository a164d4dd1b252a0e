package dynarec

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"despair/pkg/errors"
	"despair/pkg/isa"
	"despair/pkg/ports"
	"despair/pkg/ram"
)

// Mode selects how a core executes straight-line code.
type Mode int

const (
	ModeJIT       Mode = iota // compile blocks and run them natively
	ModeInterpret             // run every instruction through the evaluator
)

func (m Mode) String() string {
	switch m {
	case ModeJIT:
		return "jit"
	case ModeInterpret:
		return "interpreter"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode accepts "jit" and "interpreter" (or "interpret").
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "jit":
		return ModeJIT, nil
	case "interpreter", "interpret":
		return ModeInterpret, nil
	}
	return 0, fmt.Errorf("unknown execution mode %q", s)
}

// cancelInterval is how many dispatches run between context checks.
const cancelInterval = 1024

// Stats counts what one core has done.
type Stats struct {
	Core         int    `cbor:"core" yaml:"core"`
	Compiled     uint64 `cbor:"compiled" yaml:"compiled"`
	Executed     uint64 `cbor:"executed" yaml:"executed"`
	Hits         uint64 `cbor:"hits" yaml:"hits"`
	ServiceExits uint64 `cbor:"serviceExits" yaml:"serviceExits"`
	Controls     uint64 `cbor:"controls" yaml:"controls"`
	Interpreted  uint64 `cbor:"interpreted" yaml:"interpreted"`
	Blocks       uint64 `cbor:"blocks" yaml:"blocks"`
	CodeBytes    uint64 `cbor:"codeBytes" yaml:"codeBytes"`
	Running      bool   `cbor:"running" yaml:"running"`
}

type coreStats struct {
	compiled     atomic.Uint64
	executed     atomic.Uint64
	hits         atomic.Uint64
	serviceExits atomic.Uint64
	controls     atomic.Uint64
	interpreted  atomic.Uint64
	blocks       atomic.Uint64
	codeBytes    atomic.Uint64
	running      atomic.Bool
}

// Core is one VM thread: a register file, a stack, a data space, a port
// bank and a private block cache over the process's shared code and global
// data.
type Core struct {
	ID int

	proc   *Process
	mode   Mode
	code   []byte
	global *ram.Arena

	stateMem *ram.Arena
	state    *State
	stack    *ram.Arena
	data     *ram.Arena
	ports    *ports.Bank

	cache *Cache
	comp  *Compiler
	pc    int64

	log   commonlog.Logger
	stats coreStats
}

// newCore builds a core that starts at start. A non-zero param is stored at
// the base of the data space.
func newCore(p *Process, id int, start int64, param uint64) (*Core, error) {
	h := p.img.Header
	c := &Core{
		ID:     id,
		proc:   p,
		mode:   p.opts.Mode,
		code:   p.img.Code,
		global: p.global,
		cache:  NewCache(),
		pc:     start,
		log:    commonlog.GetLogger("despair.dynarec"),
	}

	var err error
	if c.stateMem, err = ram.New(fmt.Sprintf("core%d.state", id), stateSize); err != nil {
		return nil, errors.Wrap(errors.KindResource, start, err, "mapping core state")
	}
	c.state = (*State)(c.stateMem.Pointer())

	if c.stack, err = ram.New(fmt.Sprintf("core%d.stack", id), int(h.StackSize)); err != nil {
		c.Close()
		return nil, errors.Wrap(errors.KindResource, start, err, "mapping stack")
	}
	dataSize := int(h.DataSize)
	if param != 0 && dataSize < 8 {
		dataSize = 8
	}
	if c.data, err = ram.New(fmt.Sprintf("core%d.data", id), dataSize); err != nil {
		c.Close()
		return nil, errors.Wrap(errors.KindResource, start, err, "mapping data space")
	}
	if param != 0 {
		if err := c.data.Write(0, 8, param); err != nil {
			c.Close()
			return nil, err
		}
	}
	p.space.Add(c.stack)
	p.space.Add(c.data)

	c.state.Regs[DataReg] = int64(c.data.Base())
	c.state.Regs[GlobalReg] = int64(c.global.Base())

	c.ports = ports.New()
	p.wirePorts(c.ports)

	c.comp = NewCompiler(c.code, c.global.Size(), c.stack.Base(), c.stack.Size(), p.opts.CodeIncrement)
	return c, nil
}

// State exposes the register file.
func (c *Core) State() *State {
	return c.state
}

// PC returns the current program counter.
func (c *Core) PC() int64 {
	return c.pc
}

// Ports returns the core's port bank.
func (c *Core) Ports() *ports.Bank {
	return c.ports
}

// Cache returns the core's block cache.
func (c *Core) Cache() *Cache {
	return c.cache
}

// Run dispatches until the program halts, an error occurs or ctx is done.
// A halt returns nil.
func (c *Core) Run(ctx context.Context) (err error) {
	if c.mode == ModeJIT && !nativeSupported {
		return errors.New(errors.KindUnsupportedHost, c.pc, "native execution needs amd64 on a unix host; use interpreter mode")
	}
	c.stats.running.Store(true)
	c.proc.obs.CoreStarted(c.ID)
	defer func() {
		c.stats.running.Store(false)
		c.proc.obs.CoreStopped(c.ID, err)
	}()

	for n := 0; ; n++ {
		if n%cancelInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if c.pc < 0 {
			c.log.Debugf("core %d halted: %d blocks, %d bytes of code", c.ID, c.cache.Len(), c.cache.CodeBytes())
			return nil
		}
		if err := c.dispatch(); err != nil {
			return err
		}
	}
}

// dispatch runs one block or one instruction at the current pc.
func (c *Core) dispatch() error {
	if c.mode == ModeJIT {
		if b, ok := c.cache.Find(c.pc); ok {
			c.stats.hits.Add(1)
			if err := c.execute(b); err != nil {
				return err
			}
			c.pc = b.End
			return nil
		}
	}

	in, err := isa.Decode(c.code, c.pc)
	if err != nil {
		return err
	}
	if in.Info.Control() {
		return c.interpretControl(&in)
	}
	if c.mode == ModeInterpret {
		c.stats.interpreted.Add(1)
		if err := c.step(&in); err != nil {
			return err
		}
		c.pc = in.Next()
		return nil
	}

	b, err := c.comp.Compile(c.pc)
	if err != nil {
		return err
	}
	c.stats.compiled.Add(1)
	c.proc.obs.BlockCompiled(c.ID, b.Insts, len(b.Code()))
	if err := c.execute(b); err != nil {
		b.free()
		return err
	}
	c.cache.Insert(b.Start, b)
	c.stats.blocks.Add(1)
	c.stats.codeBytes.Add(uint64(len(b.Code())))
	c.pc = b.End
	return nil
}

// execute runs b natively, servicing its exits until it returns 0.
func (c *Core) execute(b *Block) error {
	c.stats.executed.Add(1)
	c.proc.obs.BlockExecuted(c.ID)
	state := c.stateMem.Base()
	entry := b.Entry()
	for {
		tok := callNative(entry, state)
		if tok == 0 {
			return nil
		}
		pc, resume := int64(tok>>32), uint32(tok)
		if resume == faultResume {
			return errors.New(errors.KindStackBounds, pc, "stack pointer %d outside the %d-byte stack", c.state.SP, c.stack.Size())
		}
		in, err := isa.Decode(c.code, pc)
		if err != nil {
			return err
		}
		c.stats.serviceExits.Add(1)
		c.proc.obs.ServiceExit(c.ID, in.Info.Family)
		if err := c.step(&in); err != nil {
			return err
		}
		entry = b.Entry() + uintptr(resume)
	}
}

// Stats returns a snapshot of the core's counters.
func (c *Core) Stats() Stats {
	return Stats{
		Core:         c.ID,
		Compiled:     c.stats.compiled.Load(),
		Executed:     c.stats.executed.Load(),
		Hits:         c.stats.hits.Load(),
		ServiceExits: c.stats.serviceExits.Load(),
		Controls:     c.stats.controls.Load(),
		Interpreted:  c.stats.interpreted.Load(),
		Blocks:       c.stats.blocks.Load(),
		CodeBytes:    c.stats.codeBytes.Load(),
		Running:      c.stats.running.Load(),
	}
}

// Close releases the cache, the arenas and the core's address ranges.
func (c *Core) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	if c.cache != nil {
		keep(c.cache.Close())
	}
	for _, a := range []*ram.Arena{c.stack, c.data} {
		if a != nil {
			c.proc.space.Remove(a)
			keep(a.Close())
		}
	}
	if c.stateMem != nil {
		keep(c.stateMem.Close())
		c.state = nil
	}
	return first
}
