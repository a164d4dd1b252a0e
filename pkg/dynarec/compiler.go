package dynarec

import (
	"encoding/binary"

	"github.com/tliron/commonlog"

	"despair/pkg/codebuf"
	"despair/pkg/errors"
	"despair/pkg/isa"
	"despair/pkg/x86"
)

// Generated code runs with a 0x20-byte scratch frame below the return
// address. Every entry into a block (the start and each resume point after a
// service exit) reserves it and loads the global-data base; every exit
// releases it.
//
// A block returns a token in RAX:
//
//	0                       the block ran to its end
//	pc<<32 | resume         the instruction at pc needs a host service;
//	                        re-enter the block at resume afterwards
//	pc<<32 | faultResume    the instruction at pc moved the stack pointer
//	                        outside the stack
const (
	frameSize   = 0x20
	faultResume = 0xFFFFFFFF
)

func token(pc int64, resume int) uint64 {
	return uint64(pc)<<32 | uint64(uint32(resume))
}

// deferredFloat is a float constant referenced RIP-relative from the block
// body and appended after the epilogue.
type deferredFloat struct {
	bits uint32
	at   int // offset of the 32-bit displacement to patch
}

// Compiler lowers basic blocks of one core's program into native code.
type Compiler struct {
	code       []byte
	globalSize int
	stackBase  uintptr
	stackSize  int
	increment  int
	log        commonlog.Logger

	// Per-block state.
	asm    *x86.Assembler
	buf    *codebuf.Buffer
	floats []deferredFloat
	pc     int64
}

// NewCompiler creates a compiler for code whose global data is globalSize
// bytes and whose stack is the region [stackBase, stackBase+stackSize).
func NewCompiler(code []byte, globalSize int, stackBase uintptr, stackSize int, increment int) *Compiler {
	return &Compiler{
		code:       code,
		globalSize: globalSize,
		stackBase:  stackBase,
		stackSize:  stackSize,
		increment:  increment,
		log:        commonlog.GetLogger("despair.dynarec.compiler"),
	}
}

// Compile translates the run of instructions starting at start up to the
// next control-flow instruction. An instruction that cannot be decoded or
// lowered also ends the run, unless it is the first one, in which case its
// error is returned.
func (c *Compiler) Compile(start int64) (*Block, error) {
	buf, err := codebuf.New(c.increment)
	if err != nil {
		return nil, errors.Wrap(errors.KindResource, start, err, "allocating code buffer")
	}
	c.buf = buf
	c.asm = x86.New(buf)
	c.floats = c.floats[:0]
	defer func() {
		c.asm = nil
		c.buf = nil
	}()

	c.enter()

	pc, n := start, 0
	for pc < int64(len(c.code)) {
		in, err := isa.Decode(c.code, pc)
		if err == nil && in.Info.Control() {
			break
		}
		var ops [isa.MaxOperands]operand
		if err == nil {
			ops, err = c.prepare(&in)
		}
		if err != nil {
			if n == 0 {
				buf.Free()
				return nil, err
			}
			break
		}
		c.pc = pc
		e := &table[in.Info.Op]
		e.lower(c, &in, &ops)
		pc += int64(e.length)
		n++
	}
	if n == 0 {
		buf.Free()
		return nil, errors.New(errors.KindCodeBounds, start, "no instruction to compile")
	}

	c.leave()
	c.asm.XorRegReg32(acc, acc)
	c.asm.Ret()
	c.emitFloats()

	if err := buf.Err(); err != nil {
		buf.Free()
		return nil, errors.Wrap(errors.KindResource, start, err, "growing code buffer")
	}
	if err := buf.Finalize(); err != nil {
		buf.Free()
		return nil, errors.Wrap(errors.KindResource, start, err, "finalizing code buffer")
	}
	c.log.Debugf("compiled %#x..%#x: %d instructions, %d bytes", start, pc, n, buf.Len())
	return &Block{Start: start, End: pc, Insts: n, buf: buf}, nil
}

func (c *Compiler) prepare(in *isa.Inst) ([isa.MaxOperands]operand, error) {
	if err := validate(in); err != nil {
		return [isa.MaxOperands]operand{}, err
	}
	return operands(in, c.globalSize)
}

// enter reserves the scratch frame and loads the global-data base.
func (c *Compiler) enter() {
	c.asm.SubRegImm32(x86.RSP, frameSize)
	c.asm.MovRegMem(x86.W64, globalBase, regSlot(GlobalReg))
}

func (c *Compiler) leave() {
	c.asm.AddRegImm32(x86.RSP, frameSize)
}

// serviceExit returns to the host with the current pc and a resume offset
// immediately after the exit sequence.
func (c *Compiler) serviceExit() {
	at := c.asm.Len()
	c.asm.MovRegImm64(acc, 0)
	c.leave()
	c.asm.Ret()
	resume := c.asm.Len()
	if c.buf.Err() == nil {
		c.buf.PatchUint64(at+2, token(c.pc, resume))
	}
	c.enter()
}

// faultExit returns to the host reporting a stack fault at the current pc.
func (c *Compiler) faultExit() {
	c.asm.MovRegImm64(acc, token(c.pc, faultResume))
	c.leave()
	c.asm.Ret()
}

// faultUnless emits a fault exit taken when cond does not hold.
func (c *Compiler) faultUnless(cond x86.Cond) {
	m := Compiler{asm: x86.Measure(), pc: c.pc}
	m.faultExit()
	c.asm.JccShort(cond, int8(m.asm.Len()))
	c.faultExit()
}

// withFloat emits an instruction that reads a float constant through a
// RIP-relative operand and records the displacement for patching.
func (c *Compiler) withFloat(bits uint64, emit func(m x86.Mem)) {
	emit(x86.RIP(0))
	c.floats = append(c.floats, deferredFloat{bits: uint32(bits), at: c.asm.Len() - 4})
}

// emitFloats appends the deferred constants and points each displacement at
// its constant.
func (c *Compiler) emitFloats() {
	var b [4]byte
	for _, f := range c.floats {
		q := c.buf.Len()
		binary.LittleEndian.PutUint32(b[:], f.bits)
		c.buf.Append(b[:])
		if c.buf.Err() != nil {
			return
		}
		c.buf.PatchUint32(f.at, uint32(int32(q-f.at-4)))
	}
}
