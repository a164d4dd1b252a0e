package dynarec

import (
	"unsafe"

	"despair/pkg/x86"
)

const (
	NumRegs  = 256
	NumFRegs = 256

	// DataReg holds the data-space base address, GlobalReg the global-data
	// base address. Bytecode may read them but never write them.
	DataReg   = 255
	GlobalReg = 254
)

// State is the register file shared by native code and the Go side. It
// lives in its own mapped arena so generated code can address it through a
// stable pointer held in RDI.
type State struct {
	Regs  [NumRegs]int64
	FRegs [NumFRegs]float32
	SP    int64
}

var (
	regsOffset  = int32(unsafe.Offsetof(State{}.Regs))
	fregsOffset = int32(unsafe.Offsetof(State{}.FRegs))
	spOffset    = int32(unsafe.Offsetof(State{}.SP))
	stateSize   = int(unsafe.Sizeof(State{}))
)

// Register assignment inside generated code.
const (
	stateReg   = x86.RDI // *State for the whole block
	globalBase = x86.R11 // global-data base, reloaded on every entry
	acc        = x86.RAX
	src        = x86.RCX
	dstAddr    = x86.R8
	srcAddr    = x86.R9
)

func regSlot(i uint8) x86.Mem {
	return x86.Ptr(stateReg, regsOffset+8*int32(i))
}

func fregSlot(i uint8) x86.Mem {
	return x86.Ptr(stateReg, fregsOffset+4*int32(i))
}

func spSlot() x86.Mem {
	return x86.Ptr(stateReg, spOffset)
}
