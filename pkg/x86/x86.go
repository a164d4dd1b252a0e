// Package x86 encodes x86-64 machine instructions.
//
// Every encoder method builds the complete instruction in a small scratch
// array and then hands it to the sink. An Assembler without a sink only
// counts, so measuring and emitting share the same code path and always agree
// on instruction length.
package x86

import (
	"encoding/binary"
	"fmt"
)

// Reg is a general purpose register number.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [16]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// Xmm is an SSE register number.
type Xmm uint8

const (
	X0 Xmm = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
)

func (x Xmm) String() string {
	return fmt.Sprintf("xmm%d", uint8(x))
}

// Width is an operand size in bits.
type Width uint8

const (
	W8  Width = 8
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

// Bytes returns the operand size in bytes.
func (w Width) Bytes() int {
	return int(w) / 8
}

// Sink receives encoded instructions.
type Sink interface {
	Append(p []byte)
}

// Assembler encodes instructions into a Sink. A nil sink puts the assembler
// in measure mode: lengths are computed and nothing is written.
type Assembler struct {
	sink Sink
	n    int
}

// New returns an assembler that emits into sink.
func New(sink Sink) *Assembler {
	return &Assembler{sink: sink}
}

// Measure returns an assembler that only computes lengths.
func Measure() *Assembler {
	return &Assembler{}
}

// Len returns the number of bytes produced so far, whether written or only
// measured.
func (a *Assembler) Len() int {
	return a.n
}

func (a *Assembler) put(i *inst) int {
	if a.sink != nil {
		a.sink.Append(i.buf[:i.n])
	}
	a.n += i.n
	return i.n
}

// inst is one instruction under construction. The longest x86-64 encoding is
// 15 bytes.
type inst struct {
	buf [16]byte
	n   int
}

func (i *inst) put(bytes ...byte) {
	i.n += copy(i.buf[i.n:], bytes)
}

func (i *inst) u16(v uint16) {
	binary.LittleEndian.PutUint16(i.buf[i.n:], v)
	i.n += 2
}

func (i *inst) u32(v uint32) {
	binary.LittleEndian.PutUint32(i.buf[i.n:], v)
	i.n += 4
}

func (i *inst) i32(v int32) {
	i.u32(uint32(v))
}

func (i *inst) u64(v uint64) {
	binary.LittleEndian.PutUint64(i.buf[i.n:], v)
	i.n += 8
}

// rex emits a REX prefix (0100WRXB) when one of its bits is needed or force
// is set. r, x and b are full register numbers; only bit 3 matters.
func (i *inst) rex(w bool, r, x, b uint8, force bool) {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r&8 != 0 {
		prefix |= 0x04
	}
	if x&8 != 0 {
		prefix |= 0x02
	}
	if b&8 != 0 {
		prefix |= 0x01
	}
	if prefix != 0x40 || force {
		i.put(prefix)
	}
}

// rexMem emits the REX prefix for an instruction with a memory operand.
func (i *inst) rexMem(w bool, reg uint8, m Mem, force bool) {
	var x, b uint8
	if m.Scale != 0 {
		x = uint8(m.Index)
	}
	if !m.rip {
		b = uint8(m.Base)
	}
	i.rex(w, reg, x, b, force)
}

// ModR/M mod field values, pre-shifted.
const (
	modIndirect byte = 0x00
	modDisp8    byte = 0x40
	modDisp32   byte = 0x80
	modDirect   byte = 0xC0
)

// modRM builds a ModR/M byte: [mod:2][reg:3][rm:3].
func modRM(mod byte, reg, rm uint8) byte {
	return mod | ((reg & 7) << 3) | (rm & 7)
}

// sib builds a scale/index/base byte. scale is the log2 of the multiplier.
func sib(scale, index, base uint8) byte {
	return (scale << 6) | ((index & 7) << 3) | (base & 7)
}

// direct emits a register-direct ModR/M byte.
func (i *inst) direct(reg, rm uint8) {
	i.put(modRM(modDirect, reg, rm))
}

// mem emits ModR/M, optional SIB and displacement for m.
func (i *inst) mem(reg uint8, m Mem) {
	if m.rip {
		i.put(modRM(modIndirect, reg, 5))
		i.i32(m.Disp)
		return
	}
	base := uint8(m.Base)
	var mod byte
	switch {
	case m.Disp == 0 && base&7 != 5:
		mod = modIndirect
	case m.Disp >= -128 && m.Disp <= 127:
		mod = modDisp8
	default:
		mod = modDisp32
	}
	switch {
	case m.Scale != 0:
		i.put(modRM(mod, reg, 4), sib(scaleBits(m.Scale), uint8(m.Index), base))
	case base&7 == 4:
		// RSP and R12 can only be addressed through a SIB byte.
		i.put(modRM(mod, reg, 4), sib(0, 4, base))
	default:
		i.put(modRM(mod, reg, base))
	}
	switch mod {
	case modDisp8:
		i.put(byte(int8(m.Disp)))
	case modDisp32:
		i.i32(m.Disp)
	}
}

func scaleBits(scale uint8) uint8 {
	switch scale {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	}
	panic(fmt.Sprintf("x86: invalid scale %d", scale))
}

// Mem is a memory operand: [Base + Index*Scale + Disp] or [rip + Disp].
type Mem struct {
	Base  Reg
	Index Reg
	Scale uint8 // 0 means no index
	Disp  int32
	rip   bool
}

// Ptr addresses [base + disp].
func Ptr(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp}
}

// Indexed addresses [base + index*scale + disp].
func Indexed(base, index Reg, scale uint8, disp int32) Mem {
	if index == RSP {
		panic("x86: rsp cannot be an index register")
	}
	scaleBits(scale)
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp}
}

// RIP addresses [rip + disp]. The displacement is always encoded as the last
// four bytes of an instruction that has no immediate operand.
func RIP(disp int32) Mem {
	return Mem{Disp: disp, rip: true}
}

func (m Mem) String() string {
	if m.rip {
		return fmt.Sprintf("[rip%+d]", m.Disp)
	}
	if m.Scale != 0 {
		return fmt.Sprintf("[%s+%s*%d%+d]", m.Base, m.Index, m.Scale, m.Disp)
	}
	return fmt.Sprintf("[%s%+d]", m.Base, m.Disp)
}

func fitsInt8(v int32) bool {
	return v >= -128 && v <= 127
}

// needsByteRex reports whether a byte-register operand needs a REX prefix to
// select spl/bpl/sil/dil instead of ah/ch/dh/bh.
func needsByteRex(r Reg) bool {
	return r >= RSP && r <= RDI
}
