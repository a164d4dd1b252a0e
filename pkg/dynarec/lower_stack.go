package dynarec

import (
	"despair/pkg/isa"
	"despair/pkg/x86"
)

// Stack operations address the core's stack arena through an embedded base
// address. SP is a byte offset into it and is kept in the state block.

// stackGuard faults unless the offset in acc, taken as unsigned, is at most
// limit. That rejects both negative offsets and accesses past the end.
func (c *Compiler) stackGuard(limit int64) {
	if limit < 0 {
		c.faultExit()
		return
	}
	c.asm.MovRegImm(src, uint64(limit))
	c.asm.AluRegReg(x86.CMP, x86.W64, acc, src)
	c.faultUnless(x86.CondBE)
}

// slot returns the register-file slot of a single-register stack operand.
func slot(o operand) x86.Mem {
	if o.kind == opFReg {
		return fregSlot(o.index)
	}
	return regSlot(o.index)
}

func slotWidth(size int) x86.Width {
	if size == 4 {
		return x86.W32
	}
	return x86.W64
}

func lowerPush(size int) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		w := slotWidth(size)
		c.asm.MovRegMem(x86.W64, acc, spSlot())
		c.stackGuard(int64(c.stackSize - size))
		c.asm.MovRegImm64(dstAddr, uint64(c.stackBase))
		c.asm.MovRegMem(w, src, slot(ops[0]))
		c.asm.MovMemReg(w, x86.Indexed(dstAddr, acc, 1, 0), src)
		c.asm.AluMemImm(x86.ADD, x86.W64, spSlot(), int32(size))
	}
}

func lowerPop(size int) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		w := slotWidth(size)
		c.asm.MovRegMem(x86.W64, acc, spSlot())
		c.asm.AluRegImm(x86.SUB, x86.W64, acc, int32(size))
		c.stackGuard(int64(c.stackSize - size))
		c.asm.MovRegImm64(srcAddr, uint64(c.stackBase))
		c.asm.MovRegMem(w, src, x86.Indexed(srcAddr, acc, 1, 0))
		c.asm.MovMemReg(w, slot(ops[0]), src)
		c.asm.MovMemReg(x86.W64, spSlot(), acc)
	}
}

// rangeOf returns the first slot and the element count of a register range
// operand pair. validate has rejected empty ranges.
func rangeOf(ops *[isa.MaxOperands]operand) (x86.Mem, int) {
	lo, hi := ops[0], ops[1]
	return slot(lo), int(hi.index) - int(lo.index) + 1
}

// lowerPushRange copies registers lo..hi to the stack in ascending order
// with rep movs. RDI is saved around the copy because it doubles as the
// state pointer.
func lowerPushRange(size int) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		first, n := rangeOf(ops)
		bytes := n * size
		c.asm.MovRegMem(x86.W64, acc, spSlot())
		c.stackGuard(int64(c.stackSize - bytes))
		c.asm.Push(stateReg)
		c.asm.Lea(x86.RSI, first)
		c.asm.MovRegImm64(dstAddr, uint64(c.stackBase))
		c.asm.Lea(x86.RDI, x86.Indexed(dstAddr, acc, 1, 0))
		c.asm.MovRegImm32(src, uint32(n))
		c.asm.RepMovs(slotWidth(size))
		c.asm.Pop(stateReg)
		c.asm.AluMemImm(x86.ADD, x86.W64, spSlot(), int32(bytes))
	}
}

// lowerPopRange is the inverse of lowerPushRange: the bytes below SP are
// copied into registers lo..hi in ascending order.
func lowerPopRange(size int) lowering {
	return func(c *Compiler, _ *isa.Inst, ops *[isa.MaxOperands]operand) {
		first, n := rangeOf(ops)
		bytes := n * size
		c.asm.MovRegMem(x86.W64, acc, spSlot())
		c.asm.AluRegImm(x86.SUB, x86.W64, acc, int32(bytes))
		c.stackGuard(int64(c.stackSize - bytes))
		c.asm.MovMemReg(x86.W64, spSlot(), acc)
		c.asm.Push(stateReg)
		c.asm.Lea(x86.RDI, first)
		c.asm.MovRegImm64(srcAddr, uint64(c.stackBase))
		c.asm.Lea(x86.RSI, x86.Indexed(srcAddr, acc, 1, 0))
		c.asm.MovRegImm32(src, uint32(n))
		c.asm.RepMovs(slotWidth(size))
		c.asm.Pop(stateReg)
	}
}
