package dynarec

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"despair/pkg/clock"
	"despair/pkg/image"
	"despair/pkg/isa"
)

const testGlobal = 64

// testModes runs f once per execution mode the host supports.
func testModes(t *testing.T, f func(t *testing.T, mode Mode)) {
	t.Helper()
	for _, mode := range []Mode{ModeInterpret, ModeJIT} {
		t.Run(mode.String(), func(t *testing.T) {
			if mode == ModeJIT && !nativeSupported {
				t.Skip("no native execution on this host")
			}
			f(t, mode)
		})
	}
}

func testImage(code []byte) *image.Image {
	return &image.Image{
		Header: image.Header{StackSize: 256, DataSize: 16},
		Code:   code,
		Global: make([]byte, testGlobal),
	}
}

func newTestProcess(t *testing.T, img *image.Image, opts Options) *Process {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = &clock.Fake{}
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}
	p, err := NewProcess(img, opts)
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func newTestCore(t *testing.T, p *Process, start int64) *Core {
	t.Helper()
	c, err := p.NewCore(start, 0)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// run executes code on a fresh core and fails the test on error.
func run(t *testing.T, mode Mode, code []byte) (*Process, *Core) {
	t.Helper()
	p := newTestProcess(t, testImage(code), Options{Mode: mode})
	c := newTestCore(t, p, 0)
	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	return p, c
}

func global64(t *testing.T, p *Process, off int64) int64 {
	t.Helper()
	v, err := p.Global().Read(off, 8)
	if err != nil {
		t.Fatalf("reading global %#x: %v", off, err)
	}
	return int64(v)
}

func global32(t *testing.T, p *Process, off int64) uint32 {
	t.Helper()
	v, err := p.Global().Read(off, 4)
	if err != nil {
		t.Fatalf("reading global %#x: %v", off, err)
	}
	return uint32(v)
}

// result is the observable state of a finished run, minus anything that
// holds a host address.
type result struct {
	Regs   [GlobalReg]int64
	FRegs  [NumFRegs]uint32
	SP     int64
	Global []byte
	Ports  [256]byte
}

func resultOf(p *Process, c *Core) result {
	var r result
	copy(r.Regs[:], c.state.Regs[:GlobalReg])
	for i, f := range c.state.FRegs {
		r.FRegs[i] = math.Float32bits(f)
	}
	r.SP = c.state.SP
	r.Global = append([]byte(nil), p.Global().Bytes()...)
	r.Ports = c.ports.Snapshot()
	return r
}

// equivalent runs code in interpret mode and, where supported, in JIT mode
// and requires identical results.
func equivalent(t *testing.T, code []byte) result {
	t.Helper()
	p, c := run(t, ModeInterpret, code)
	want := resultOf(p, c)
	if !nativeSupported {
		t.Log("no native execution on this host; checked interpreter only")
		return want
	}
	p, c = run(t, ModeJIT, code)
	got := resultOf(p, c)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JIT diverges from interpreter (-interp +jit):\n%s", diff)
	}
	return want
}

func program() *isa.Builder {
	return isa.NewBuilder()
}
