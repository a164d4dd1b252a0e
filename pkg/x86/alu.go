package x86

import "fmt"

// AluOp selects one of the eight classic two-operand integer operations. The
// value is the /digit used by the immediate forms; the register forms use
// opcode op*8+1 (store direction) and op*8+3 (load direction).
type AluOp uint8

const (
	ADD AluOp = 0
	OR  AluOp = 1
	ADC AluOp = 2
	SBB AluOp = 3
	AND AluOp = 4
	SUB AluOp = 5
	XOR AluOp = 6
	CMP AluOp = 7
)

var aluNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

func (op AluOp) String() string {
	return aluNames[op&7]
}

func aluWide(w Width, what string) bool {
	switch w {
	case W32:
		return false
	case W64:
		return true
	}
	panic(fmt.Sprintf("x86: %s: unsupported width %d", what, w))
}

// AluRegReg: op dst, src.
func (a *Assembler) AluRegReg(op AluOp, w Width, dst, src Reg) int {
	var i inst
	i.rex(aluWide(w, op.String()), uint8(src), 0, uint8(dst), false)
	i.put(byte(op)<<3 | 0x01)
	i.direct(uint8(src), uint8(dst))
	return a.put(&i)
}

// AluRegImm: op reg, imm. Uses the imm8 form when the value fits.
func (a *Assembler) AluRegImm(op AluOp, w Width, reg Reg, imm int32) int {
	var i inst
	i.rex(aluWide(w, op.String()), 0, 0, uint8(reg), false)
	if fitsInt8(imm) {
		i.put(0x83)
		i.direct(uint8(op), uint8(reg))
		i.put(byte(int8(imm)))
	} else {
		i.put(0x81)
		i.direct(uint8(op), uint8(reg))
		i.i32(imm)
	}
	return a.put(&i)
}

// AluRegMem: op reg, [m].
func (a *Assembler) AluRegMem(op AluOp, w Width, reg Reg, m Mem) int {
	var i inst
	i.rexMem(aluWide(w, op.String()), uint8(reg), m, false)
	i.put(byte(op)<<3 | 0x03)
	i.mem(uint8(reg), m)
	return a.put(&i)
}

// AluMemReg: op [m], reg.
func (a *Assembler) AluMemReg(op AluOp, w Width, m Mem, reg Reg) int {
	var i inst
	i.rexMem(aluWide(w, op.String()), uint8(reg), m, false)
	i.put(byte(op)<<3 | 0x01)
	i.mem(uint8(reg), m)
	return a.put(&i)
}

// AluMemImm: op [m], imm. Uses the imm8 form when the value fits.
func (a *Assembler) AluMemImm(op AluOp, w Width, m Mem, imm int32) int {
	var i inst
	i.rexMem(aluWide(w, op.String()), 0, m, false)
	if fitsInt8(imm) {
		i.put(0x83)
		i.mem(uint8(op), m)
		i.put(byte(int8(imm)))
	} else {
		i.put(0x81)
		i.mem(uint8(op), m)
		i.i32(imm)
	}
	return a.put(&i)
}

// AddRegImm32: add reg, imm32 (64-bit, sign-extended)
func (a *Assembler) AddRegImm32(reg Reg, imm int32) int {
	return a.AluRegImm(ADD, W64, reg, imm)
}

// SubRegImm32: sub reg, imm32 (64-bit, sign-extended)
func (a *Assembler) SubRegImm32(reg Reg, imm int32) int {
	return a.AluRegImm(SUB, W64, reg, imm)
}

// XorRegReg32: xor dst32, src32. The usual way to zero a register.
func (a *Assembler) XorRegReg32(dst, src Reg) int {
	return a.AluRegReg(XOR, W32, dst, src)
}

// ImulRegReg: imul dst, src (signed, truncated to w).
func (a *Assembler) ImulRegReg(w Width, dst, src Reg) int {
	var i inst
	i.rex(aluWide(w, "imul"), uint8(dst), 0, uint8(src), false)
	i.put(0x0F, 0xAF)
	i.direct(uint8(dst), uint8(src))
	return a.put(&i)
}

// unary emits the F7 /digit group.
func (a *Assembler) unary(digit uint8, w Width, reg Reg, what string) int {
	var i inst
	i.rex(aluWide(w, what), 0, 0, uint8(reg), false)
	i.put(0xF7)
	i.direct(digit, uint8(reg))
	return a.put(&i)
}

// Idiv: signed divide rdx:rax (or edx:eax) by reg.
func (a *Assembler) Idiv(w Width, reg Reg) int {
	return a.unary(7, w, reg, "idiv")
}

// Cqo: sign-extend rax into rdx:rax.
func (a *Assembler) Cqo() int {
	var i inst
	i.put(0x48, 0x99)
	return a.put(&i)
}

// Cdq: sign-extend eax into edx:eax.
func (a *Assembler) Cdq() int {
	var i inst
	i.put(0x99)
	return a.put(&i)
}

// ShiftOp selects a D3/C1 group shift or rotate.
type ShiftOp uint8

const (
	ROL ShiftOp = 0
	ROR ShiftOp = 1
	SHL ShiftOp = 4
	SHR ShiftOp = 5
	SAR ShiftOp = 7
)

func (op ShiftOp) String() string {
	switch op {
	case ROL:
		return "rol"
	case ROR:
		return "ror"
	case SHL:
		return "shl"
	case SHR:
		return "shr"
	case SAR:
		return "sar"
	}
	return fmt.Sprintf("shift(%d)", uint8(op))
}

// ShiftRegCL: op reg, cl. The hardware masks the count to 5 or 6 bits.
func (a *Assembler) ShiftRegCL(op ShiftOp, w Width, reg Reg) int {
	var i inst
	i.rex(aluWide(w, op.String()), 0, 0, uint8(reg), false)
	i.put(0xD3)
	i.direct(uint8(op), uint8(reg))
	return a.put(&i)
}

// ShiftRegImm: op reg, imm8.
func (a *Assembler) ShiftRegImm(op ShiftOp, w Width, reg Reg, imm uint8) int {
	var i inst
	i.rex(aluWide(w, op.String()), 0, 0, uint8(reg), false)
	i.put(0xC1)
	i.direct(uint8(op), uint8(reg))
	i.put(imm)
	return a.put(&i)
}
