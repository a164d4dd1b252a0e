package dynarec

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"despair/pkg/clock"
	"despair/pkg/codebuf"
	"despair/pkg/devices"
	"despair/pkg/image"
	"despair/pkg/isa"
	"despair/pkg/ports"
	"despair/pkg/ram"
)

// Observer receives execution events. Calls come from every core's
// goroutine, so implementations must be safe for concurrent use.
type Observer interface {
	CoreStarted(core int)
	CoreStopped(core int, err error)
	BlockCompiled(core int, insts, bytes int)
	BlockExecuted(core int)
	ServiceExit(core int, f isa.Family)
	ControlInterpreted(core int, f isa.Family)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) CoreStarted(int)                    {}
func (NopObserver) CoreStopped(int, error)             {}
func (NopObserver) BlockCompiled(int, int, int)        {}
func (NopObserver) BlockExecuted(int)                  {}
func (NopObserver) ServiceExit(int, isa.Family)        {}
func (NopObserver) ControlInterpreted(int, isa.Family) {}

type Options struct {
	Mode     Mode
	Clock    clock.Clock
	GPU      devices.GPU
	Keyboard devices.Keyboard
	Observer Observer
	// CodeIncrement is the growth step of each block's code buffer.
	CodeIncrement int
	// Seed fixes the RAND sequence. Zero seeds from the runtime.
	Seed uint64
}

var (
	ErrNotStarted     = errors.New("process not started")
	ErrAlreadyStarted = errors.New("process already started")
)

// Process runs one image. Code and global data are shared by all of its
// cores; each core has its own registers, stack, data space, ports and
// block cache.
type Process struct {
	img    *image.Image
	opts   Options
	global *ram.Arena
	space  *ram.Space

	clock clock.Clock
	gpu   devices.GPU
	kbd   devices.Keyboard
	obs   Observer
	log   commonlog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu       sync.Mutex
	heaps    map[uint64]*ram.Arena
	heapSeq  int
	cores    []*Core
	nextID   int
	group    *errgroup.Group
	ctx      context.Context
}

func NewProcess(img *image.Image, opts Options) (*Process, error) {
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	if opts.GPU == nil {
		opts.GPU = devices.Null{}
	}
	if opts.Keyboard == nil {
		opts.Keyboard = devices.Null{}
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver{}
	}
	if opts.CodeIncrement <= 0 {
		opts.CodeIncrement = codebuf.DefaultIncrement
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	global, err := ram.NewFrom("global", img.Global)
	if err != nil {
		return nil, fmt.Errorf("mapping global data: %w", err)
	}
	p := &Process{
		img:    img,
		opts:   opts,
		global: global,
		space:  &ram.Space{},
		clock:  opts.Clock,
		gpu:    opts.GPU,
		kbd:    opts.Keyboard,
		obs:    opts.Observer,
		log:    commonlog.GetLogger("despair.dynarec"),
		rng:    rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		heaps:  make(map[uint64]*ram.Arena),
	}
	p.space.Add(global)
	return p, nil
}

// Global returns the shared global-data arena.
func (p *Process) Global() *ram.Arena {
	return p.global
}

// Space returns the address space used to resolve pointers.
func (p *Process) Space() *ram.Space {
	return p.space
}

// NewCore builds a core without running it. The caller owns it and must
// close it.
func (p *Process) NewCore(start int64, param uint64) (*Core, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	c, err := newCore(p, id, start, param)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.cores = append(p.cores, c)
	p.mu.Unlock()
	return c, nil
}

// Start spawns the first core at the image's code start.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.group != nil {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.group, p.ctx = errgroup.WithContext(ctx)
	p.mu.Unlock()
	h := p.img.Header
	return p.Spawn(int64(h.CodeStart), h.Param)
}

// Spawn starts a new core at start on its own OS thread.
func (p *Process) Spawn(start int64, param uint64) error {
	p.mu.Lock()
	group, ctx := p.group, p.ctx
	p.mu.Unlock()
	if group == nil {
		return ErrNotStarted
	}

	c, err := p.NewCore(start, param)
	if err != nil {
		return err
	}
	p.log.Infof("core %d starting at %#x (param %#x, %s)", c.ID, start, param, p.opts.Mode)
	group.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer c.Close()

		begin := time.Now()
		err := c.Run(ctx)
		if err != nil {
			p.log.Errorf("core %d stopped at %#x: %s", c.ID, c.pc, err)
			return fmt.Errorf("core %d: %w", c.ID, err)
		}
		st := c.Stats()
		p.log.Infof("core %d halted after %s: %d blocks compiled, %d executed, %d service exits",
			c.ID, time.Since(begin), st.Compiled, st.Executed, st.ServiceExits)
		return nil
	})
	return nil
}

// Wait blocks until every core has stopped and returns the first error.
func (p *Process) Wait() error {
	p.mu.Lock()
	group := p.group
	p.mu.Unlock()
	if group == nil {
		return ErrNotStarted
	}
	return group.Wait()
}

// Run starts the process and waits for it.
func (p *Process) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// Snapshot returns the counters of every core created so far.
func (p *Process) Snapshot() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stats, 0, len(p.cores))
	for _, c := range p.cores {
		out = append(out, c.Stats())
	}
	return out
}

// Heaps returns the number of live heaps.
func (p *Process) Heaps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.heaps)
}

// Close releases heaps and global data. Cores must have stopped.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for base, h := range p.heaps {
		p.space.Remove(h)
		if err := h.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.heaps, base)
	}
	p.space.Remove(p.global)
	if err := p.global.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// random returns a non-negative 31-bit value.
func (p *Process) random() int32 {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Int32()
}

func (p *Process) makeHeap(size uint64) (uint64, error) {
	if size == 0 || size > 1<<40 {
		return 0, fmt.Errorf("heap size %d", size)
	}
	p.mu.Lock()
	name := fmt.Sprintf("heap%d", p.heapSeq)
	p.heapSeq++
	p.mu.Unlock()
	h, err := ram.New(name, int(size))
	if err != nil {
		return 0, err
	}
	base := uint64(h.Base())
	p.mu.Lock()
	p.heaps[base] = h
	p.mu.Unlock()
	p.space.Add(h)
	return base, nil
}

func (p *Process) destroyHeap(base uint64) error {
	p.mu.Lock()
	h, ok := p.heaps[base]
	delete(p.heaps, base)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("no heap at %#x", base)
	}
	p.space.Remove(h)
	return h.Close()
}

// wirePorts installs the side-effecting ports of a core.
func (p *Process) wirePorts(b *ports.Bank) {
	b.Handle(ports.GPUFramebufferIn, func(_ *ports.Bank, _ int, v uint64) error {
		return p.gpu.FramebufferIn(v)
	})
	b.Handle(ports.GPUFramebufferOut, func(_ *ports.Bank, _ int, v uint64) error {
		return p.gpu.FramebufferOut(v)
	})
	b.Handle(ports.GPUCommand, func(_ *ports.Bank, _ int, v uint64) error {
		return p.gpu.Command(v)
	})
	b.Handle(ports.Keyboard, func(b *ports.Bank, _ int, v uint64) error {
		return b.Store(ports.Keyboard, 1, boolValue(p.kbd.KeyStatus(v)))
	})
	b.Handle(ports.MemoryMakeHeap, func(b *ports.Bank, _ int, v uint64) error {
		base, err := p.makeHeap(v)
		if err != nil {
			p.log.Warningf("make heap: %s", err)
		}
		return b.Store(ports.MemoryMakeHeap, 8, base)
	})
	b.Handle(ports.MemoryDestroyHeap, func(_ *ports.Bank, _ int, v uint64) error {
		if err := p.destroyHeap(v); err != nil {
			p.log.Warningf("destroy heap: %s", err)
		}
		return nil
	})
	b.Handle(ports.ThreadCreate, func(b *ports.Bank, _ int, v uint64) error {
		param, err := b.Read(ports.ThreadParameter, 8)
		if err != nil {
			return err
		}
		ok := true
		if err := p.Spawn(int64(uint32(v)), param); err != nil {
			p.log.Warningf("thread create at %#x: %s", v, err)
			ok = false
		}
		return b.Store(ports.ThreadCreate, 1, boolValue(ok))
	})
	b.Unsupported(ports.FileCommand)
	b.Unsupported(ports.StringCommand)
	b.Unsupported(ports.DMASize)
}
