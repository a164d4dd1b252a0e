package x86

import "fmt"

// MovRegImm64: movabs reg, imm64. Always the 10-byte form, so the immediate
// sits at a fixed offset of 2 and can be patched later.
func (a *Assembler) MovRegImm64(reg Reg, imm uint64) int {
	var i inst
	i.rex(true, 0, 0, uint8(reg), false)
	i.put(0xB8 | byte(reg&7))
	i.u64(imm)
	return a.put(&i)
}

// MovRegImm32: mov reg32, imm32 (zero-extends into the full register).
func (a *Assembler) MovRegImm32(reg Reg, imm uint32) int {
	var i inst
	i.rex(false, 0, 0, uint8(reg), false)
	i.put(0xB8 | byte(reg&7))
	i.u32(imm)
	return a.put(&i)
}

// MovRegImm32SignExt: mov reg, imm32 (sign-extended to 64 bits).
func (a *Assembler) MovRegImm32SignExt(reg Reg, imm int32) int {
	var i inst
	i.rex(true, 0, 0, uint8(reg), false)
	i.put(0xC7)
	i.direct(0, uint8(reg))
	i.i32(imm)
	return a.put(&i)
}

// MovRegImm loads an arbitrary 64-bit constant using the shortest encoding.
func (a *Assembler) MovRegImm(reg Reg, imm uint64) int {
	switch {
	case imm <= 0xFFFFFFFF:
		return a.MovRegImm32(reg, uint32(imm))
	case int64(imm) >= -1<<31 && int64(imm) < 1<<31:
		return a.MovRegImm32SignExt(reg, int32(int64(imm)))
	default:
		return a.MovRegImm64(reg, imm)
	}
}

// MovRegMem loads w bits from m into reg. Narrow loads zero-extend.
func (a *Assembler) MovRegMem(w Width, reg Reg, m Mem) int {
	var i inst
	switch w {
	case W8:
		i.rexMem(false, uint8(reg), m, false)
		i.put(0x0F, 0xB6)
	case W16:
		i.rexMem(false, uint8(reg), m, false)
		i.put(0x0F, 0xB7)
	case W32:
		i.rexMem(false, uint8(reg), m, false)
		i.put(0x8B)
	case W64:
		i.rexMem(true, uint8(reg), m, false)
		i.put(0x8B)
	default:
		panic(fmt.Sprintf("x86: mov reg, mem: unsupported width %d", w))
	}
	i.mem(uint8(reg), m)
	return a.put(&i)
}

// MovMemReg stores the low w bits of reg to m.
func (a *Assembler) MovMemReg(w Width, m Mem, reg Reg) int {
	var i inst
	switch w {
	case W8:
		i.rexMem(false, uint8(reg), m, needsByteRex(reg))
		i.put(0x88)
	case W16:
		i.put(0x66)
		i.rexMem(false, uint8(reg), m, false)
		i.put(0x89)
	case W32:
		i.rexMem(false, uint8(reg), m, false)
		i.put(0x89)
	case W64:
		i.rexMem(true, uint8(reg), m, false)
		i.put(0x89)
	default:
		panic(fmt.Sprintf("x86: mov mem, reg: unsupported width %d", w))
	}
	i.mem(uint8(reg), m)
	return a.put(&i)
}

// MovMemImm stores an immediate to m. W64 sign-extends the 32-bit immediate.
func (a *Assembler) MovMemImm(w Width, m Mem, imm int32) int {
	var i inst
	switch w {
	case W8:
		i.rexMem(false, 0, m, false)
		i.put(0xC6)
		i.mem(0, m)
		i.put(byte(imm))
	case W16:
		i.put(0x66)
		i.rexMem(false, 0, m, false)
		i.put(0xC7)
		i.mem(0, m)
		i.u16(uint16(imm))
	case W32, W64:
		i.rexMem(w == W64, 0, m, false)
		i.put(0xC7)
		i.mem(0, m)
		i.i32(imm)
	default:
		panic(fmt.Sprintf("x86: mov mem, imm: unsupported width %d", w))
	}
	return a.put(&i)
}

// MovzxRegReg8: movzx dst32, src8.
func (a *Assembler) MovzxRegReg8(dst, src Reg) int {
	var i inst
	i.rex(false, uint8(dst), 0, uint8(src), needsByteRex(src))
	i.put(0x0F, 0xB6)
	i.direct(uint8(dst), uint8(src))
	return a.put(&i)
}

// Lea: lea reg, m.
func (a *Assembler) Lea(reg Reg, m Mem) int {
	var i inst
	i.rexMem(true, uint8(reg), m, false)
	i.put(0x8D)
	i.mem(uint8(reg), m)
	return a.put(&i)
}
