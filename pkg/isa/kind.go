package isa

import "fmt"

// Kind is the addressing mode of one operand slot.
type Kind uint8

const (
	None    Kind = iota
	Reg          // integer register index
	FReg         // float register index
	Mem          // global-data offset, 32-bit access
	ByteMem      // global-data offset, 8-bit access
	QuadMem      // global-data offset, 64-bit access
	Ptr          // register holding a host address, 32-bit access
	BytePtr      // register holding a host address, 8-bit access
	QuadPtr      // register holding a host address, 64-bit access
	FMem         // global-data offset, IEEE-754 single
	FPtr         // register holding the host address of an IEEE-754 single
	Imm8
	Imm16
	Imm32
	Imm64
	FImm // IEEE-754 single
	Addr // absolute code address
	Disp // signed code displacement
)

var kindTokens = map[string]Kind{
	"R":      Reg,
	"FR":     FReg,
	"M":      Mem,
	"BM":     ByteMem,
	"QM":     QuadMem,
	"MR":     Ptr,
	"MBR":    BytePtr,
	"MQR":    QuadPtr,
	"FM":     FMem,
	"MFR":    FPtr,
	"IMMI8":  Imm8,
	"IMMI16": Imm16,
	"IMMI":   Imm32,
	"IMMI64": Imm64,
	"FIMMI":  FImm,
	"ADDR":   Addr,
	"DISP":   Disp,
}

var kindNames = map[Kind]string{}

func init() {
	for tok, k := range kindTokens {
		kindNames[k] = tok
	}
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size returns the number of encoded bytes of the operand.
func (k Kind) Size() int {
	switch k {
	case Reg, FReg, Ptr, BytePtr, QuadPtr, FPtr, Imm8:
		return 1
	case Imm16:
		return 2
	case Mem, ByteMem, QuadMem, FMem, Imm32, FImm, Addr, Disp:
		return 4
	case Imm64:
		return 8
	}
	return 0
}

// Access returns the width in bytes of the memory access a memory or
// pointer operand performs, or 0 for other kinds.
func (k Kind) Access() int {
	switch k {
	case ByteMem, BytePtr:
		return 1
	case Mem, Ptr, FMem, FPtr:
		return 4
	case QuadMem, QuadPtr:
		return 8
	}
	return 0
}

// IsGlobal reports whether the operand is an offset into global data.
func (k Kind) IsGlobal() bool {
	return k == Mem || k == ByteMem || k == QuadMem || k == FMem
}

// IsPointer reports whether the operand dereferences a pointer register.
func (k Kind) IsPointer() bool {
	return k == Ptr || k == BytePtr || k == QuadPtr || k == FPtr
}

// IsFloat reports whether the operand holds a float: a float register,
// float memory or a float immediate. In float families a plain M or MR
// operand is an int32 converted on access.
func (k Kind) IsFloat() bool {
	return k == FReg || k == FMem || k == FPtr || k == FImm
}

// IsMemory reports whether the operand reads or writes memory.
func (k Kind) IsMemory() bool {
	return k.IsGlobal() || k.IsPointer()
}

// IsImmediate reports whether the operand is an inline constant.
func (k Kind) IsImmediate() bool {
	switch k {
	case Imm8, Imm16, Imm32, Imm64, FImm:
		return true
	}
	return false
}

// NamesRegister reports whether the operand's encoded byte is a register
// index (integer, float or pointer).
func (k Kind) NamesRegister() bool {
	return k == Reg || k == FReg || k.IsPointer()
}
