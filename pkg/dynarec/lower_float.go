package dynarec

import (
	"despair/pkg/isa"
	"despair/pkg/x86"
)

// loadF puts the float value of o into x. Integer operands are read as
// int32 and converted.
func (c *Compiler) loadF(x x86.Xmm, o operand) {
	switch {
	case o.kind == opFImm:
		c.withFloat(o.imm, func(m x86.Mem) { c.asm.MovssXmmMem(x, m) })
	case o.kind == opImm:
		c.asm.MovRegImm32(src, uint32(o.imm))
		c.asm.Cvtsi2ss(x86.W32, x, src)
	case o.holdsFloat():
		c.asm.MovssXmmMem(x, c.ref(o, srcAddr))
	default:
		c.asm.Cvtsi2ssMem(x86.W32, x, c.ref(o, srcAddr))
	}
}

// storeF writes x to o. Integer destinations receive x rounded to the
// nearest int32; a register holds it zero-extended.
func (c *Compiler) storeF(o operand, x x86.Xmm) {
	if o.holdsFloat() {
		c.asm.MovssMemXmm(c.ref(o, dstAddr), x)
		return
	}
	c.asm.Cvtss2si(x86.W32, acc, x)
	c.store(o, acc)
}

// lowerFloatMove covers FMOV and FCON.
func lowerFloatMove(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
	c.loadF(x86.X0, ops[1])
	c.storeF(ops[0], x86.X0)
}

// lowerFloatOp computes dst = dst op src in single precision. A float
// source is used straight from memory.
func lowerFloatOp(op x86.SseOp) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		dst, s := ops[0], ops[1]
		c.loadF(x86.X0, dst)
		switch {
		case s.kind == opFImm:
			c.withFloat(s.imm, func(m x86.Mem) { c.asm.SseXmmMem(op, x86.X0, m) })
		case s.holdsFloat():
			c.asm.SseXmmMem(op, x86.X0, c.ref(s, srcAddr))
		default:
			c.loadF(x86.X1, s)
			c.asm.SseXmmXmm(op, x86.X0, x86.X1)
		}
		c.storeF(dst, x86.X0)
	}
}

func lowerFloatCompare(cond x86.Cond) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		c.asm.MovssXmmMem(x86.X0, fregSlot(ops[1].index))
		c.asm.UcomissMem(x86.X0, fregSlot(ops[2].index))
		c.asm.Setcc(cond, acc)
		c.asm.MovzxRegReg8(acc, acc)
		c.store(ops[0], acc)
	}
}
