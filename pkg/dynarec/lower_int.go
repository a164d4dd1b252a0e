package dynarec

import (
	"fmt"
	"math"

	"despair/pkg/isa"
	"despair/pkg/x86"
)

// ref returns the memory location of o. A pointer operand first loads its
// address into tmp.
func (c *Compiler) ref(o operand, tmp x86.Reg) x86.Mem {
	switch o.kind {
	case opReg:
		return regSlot(o.index)
	case opFReg:
		return fregSlot(o.index)
	case opMem:
		return x86.Ptr(globalBase, o.off)
	case opPtr:
		c.asm.MovRegMem(x86.W64, tmp, regSlot(o.index))
		return x86.Ptr(tmp, 0)
	}
	panic(fmt.Sprintf("dynarec: operand %s has no memory location", o))
}

// opWidth is the width an integer operation on o uses: registers are 64-bit,
// memory operands their access width.
func opWidth(o operand) x86.Width {
	if o.kind == opReg {
		return x86.W64
	}
	return o.width
}

// load puts the integer value of o into r, zero-extended.
func (c *Compiler) load(r x86.Reg, o operand) {
	switch o.kind {
	case opImm:
		c.asm.MovRegImm(r, o.imm)
	case opReg:
		c.asm.MovRegMem(x86.W64, r, regSlot(o.index))
	default:
		c.asm.MovRegMem(o.width, r, c.ref(o, srcAddr))
	}
}

// store writes the low bits of r to o.
func (c *Compiler) store(o operand, r x86.Reg) {
	c.asm.MovMemReg(opWidth(o), c.ref(o, dstAddr), r)
}

// lowerMove covers MOV, MOVP and BMOV. The destination decides the width
// stored.
func lowerMove(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
	dst, s := ops[0], ops[1]
	if w := opWidth(dst); s.kind == opImm && storesAsImm(w, s.imm) {
		c.asm.MovMemImm(w, c.ref(dst, dstAddr), int32(uint32(s.imm)))
		return
	}
	c.load(acc, s)
	c.store(dst, acc)
}

// storesAsImm reports whether mov [m], imm32 stores v at width w. The
// 64-bit form sign-extends its immediate.
func storesAsImm(w x86.Width, v uint64) bool {
	if w != x86.W64 {
		return true
	}
	return int64(v) >= math.MinInt32 && int64(v) <= math.MaxInt32
}

func lowerALU(op x86.AluOp) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		dst := ops[0]
		c.load(src, ops[1])
		c.asm.AluMemReg(op, opWidth(dst), c.ref(dst, dstAddr), src)
	}
}

func lowerMul(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
	dst := ops[0]
	c.load(acc, dst)
	c.load(src, ops[1])
	c.asm.ImulRegReg(opWidth(dst), acc, src)
	c.store(dst, acc)
}

// lowerDiv emits a signed division. A zero divisor or an overflowing
// quotient traps in hardware.
func lowerDiv(remainder bool) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		dst := ops[0]
		w := opWidth(dst)
		c.load(acc, dst)
		c.load(src, ops[1])
		if w == x86.W64 {
			c.asm.Cqo()
		} else {
			c.asm.Cdq()
		}
		c.asm.Idiv(w, src)
		if remainder {
			c.store(dst, x86.RDX)
		} else {
			c.store(dst, acc)
		}
	}
}

func shiftMask(w x86.Width) uint8 {
	if w == x86.W64 {
		return 63
	}
	return 31
}

func lowerShift(op x86.ShiftOp) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		dst, count := ops[0], ops[1]
		w := opWidth(dst)
		c.load(acc, dst)
		if count.kind == opImm {
			c.asm.ShiftRegImm(op, w, acc, uint8(count.imm)&shiftMask(w))
		} else {
			c.load(src, count)
			c.asm.ShiftRegCL(op, w, acc)
		}
		c.store(dst, acc)
	}
}

// lowerCompare writes 1 to the destination register if the signed
// comparison of the low 32 bits holds and 0 otherwise.
func lowerCompare(cond x86.Cond) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		c.load(acc, ops[0])
		if ops[1].kind == opReg {
			c.asm.AluRegMem(x86.CMP, x86.W32, acc, regSlot(ops[1].index))
		} else {
			c.load(src, ops[1])
			c.asm.AluRegReg(x86.CMP, x86.W32, acc, src)
		}
		c.asm.Setcc(cond, acc)
		c.asm.MovzxRegReg8(acc, acc)
		c.store(ops[0], acc)
	}
}
