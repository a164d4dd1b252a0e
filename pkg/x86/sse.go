package x86

// SseOp is a scalar single-precision arithmetic opcode (F3 0F xx).
type SseOp uint8

const (
	ADDSS  SseOp = 0x58
	MULSS  SseOp = 0x59
	SUBSS  SseOp = 0x5C
	MINSS  SseOp = 0x5D
	DIVSS  SseOp = 0x5E
	MAXSS  SseOp = 0x5F
	SQRTSS SseOp = 0x51
)

// sseXX encodes prefix [REX] 0F op with a register-direct operand pair.
func (a *Assembler) sseXX(prefix byte, w bool, op byte, reg, rm uint8) int {
	var i inst
	if prefix != 0 {
		i.put(prefix)
	}
	i.rex(w, reg, 0, rm, false)
	i.put(0x0F, op)
	i.direct(reg, rm)
	return a.put(&i)
}

// sseXM encodes prefix [REX] 0F op with a memory operand.
func (a *Assembler) sseXM(prefix byte, w bool, op byte, reg uint8, m Mem) int {
	var i inst
	if prefix != 0 {
		i.put(prefix)
	}
	i.rexMem(w, reg, m, false)
	i.put(0x0F, op)
	i.mem(reg, m)
	return a.put(&i)
}

// MovssXmmMem: movss xmm, dword [m]
func (a *Assembler) MovssXmmMem(x Xmm, m Mem) int {
	return a.sseXM(0xF3, false, 0x10, uint8(x), m)
}

// MovssMemXmm: movss dword [m], xmm
func (a *Assembler) MovssMemXmm(m Mem, x Xmm) int {
	return a.sseXM(0xF3, false, 0x11, uint8(x), m)
}

// SseXmmXmm: op dst, src (scalar single)
func (a *Assembler) SseXmmXmm(op SseOp, dst, src Xmm) int {
	return a.sseXX(0xF3, false, byte(op), uint8(dst), uint8(src))
}

// SseXmmMem: op xmm, dword [m] (scalar single)
func (a *Assembler) SseXmmMem(op SseOp, x Xmm, m Mem) int {
	return a.sseXM(0xF3, false, byte(op), uint8(x), m)
}

// UcomissMem: ucomiss xmm, dword [m]
func (a *Assembler) UcomissMem(x Xmm, m Mem) int {
	return a.sseXM(0, false, 0x2E, uint8(x), m)
}

// Cvtss2si: convert with the current rounding mode (round to nearest even by
// default). Out-of-range inputs produce the integer indefinite value.
func (a *Assembler) Cvtss2si(w Width, dst Reg, src Xmm) int {
	return a.sseXX(0xF3, aluWide(w, "cvtss2si"), 0x2D, uint8(dst), uint8(src))
}

// Cvtsi2ss: convert a signed w-bit integer register to single precision.
func (a *Assembler) Cvtsi2ss(w Width, dst Xmm, src Reg) int {
	return a.sseXX(0xF3, aluWide(w, "cvtsi2ss"), 0x2A, uint8(dst), uint8(src))
}

// Cvtsi2ssMem: convert a signed w-bit integer in memory to single precision.
func (a *Assembler) Cvtsi2ssMem(w Width, dst Xmm, m Mem) int {
	return a.sseXM(0xF3, aluWide(w, "cvtsi2ss"), 0x2A, uint8(dst), m)
}
