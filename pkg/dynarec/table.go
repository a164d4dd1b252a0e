package dynarec

import (
	"fmt"

	"despair/pkg/isa"
	"despair/pkg/x86"
)

// lowering emits the native equivalent of one decoded instruction.
// Operands have already been validated.
type lowering func(c *Compiler, in *isa.Inst, ops *[isa.MaxOperands]operand)

type entry struct {
	length int
	lower  lowering
}

// table is indexed by opcode.
var table []entry

func init() {
	table = make([]entry, isa.Count())
	for _, info := range isa.All() {
		if info.Control() {
			table[info.Op] = entry{length: info.Length, lower: lowerControl}
			continue
		}
		lower := loweringFor(info.Family)
		if lower == nil {
			panic(fmt.Sprintf("dynarec: no lowering for %s", info.Name))
		}
		table[info.Op] = entry{length: info.Length, lower: lower}
	}
}

func loweringFor(f isa.Family) lowering {
	switch f {
	case isa.FamMOV, isa.FamMOVP, isa.FamBMOV:
		return lowerMove
	case isa.FamADD:
		return lowerALU(x86.ADD)
	case isa.FamSUB:
		return lowerALU(x86.SUB)
	case isa.FamAND:
		return lowerALU(x86.AND)
	case isa.FamOR:
		return lowerALU(x86.OR)
	case isa.FamXOR:
		return lowerALU(x86.XOR)
	case isa.FamMUL:
		return lowerMul
	case isa.FamDIV:
		return lowerDiv(false)
	case isa.FamMOD:
		return lowerDiv(true)
	case isa.FamSHL:
		return lowerShift(x86.SHL)
	case isa.FamSHR:
		return lowerShift(x86.SHR)

	case isa.FamCMPE:
		return lowerCompare(x86.CondE)
	case isa.FamCMPNE:
		return lowerCompare(x86.CondNE)
	case isa.FamCMPG:
		return lowerCompare(x86.CondG)
	case isa.FamCMPL:
		return lowerCompare(x86.CondL)
	case isa.FamCMPGE:
		return lowerCompare(x86.CondGE)
	case isa.FamCMPLE:
		return lowerCompare(x86.CondLE)

	// ucomiss sets ZF, PF and CF on unordered operands, so the unsigned
	// conditions make E, L and LE true and NE, G and GE false for NaN.
	case isa.FamFCMPE:
		return lowerFloatCompare(x86.CondE)
	case isa.FamFCMPNE:
		return lowerFloatCompare(x86.CondNE)
	case isa.FamFCMPG:
		return lowerFloatCompare(x86.CondA)
	case isa.FamFCMPL:
		return lowerFloatCompare(x86.CondB)
	case isa.FamFCMPGE:
		return lowerFloatCompare(x86.CondAE)
	case isa.FamFCMPLE:
		return lowerFloatCompare(x86.CondBE)

	case isa.FamFMOV, isa.FamFCON:
		return lowerFloatMove
	case isa.FamFADD:
		return lowerFloatOp(x86.ADDSS)
	case isa.FamFSUB:
		return lowerFloatOp(x86.SUBSS)
	case isa.FamFMUL:
		return lowerFloatOp(x86.MULSS)
	case isa.FamFDIV:
		return lowerFloatOp(x86.DIVSS)

	case isa.FamPUSH:
		return lowerPush(8)
	case isa.FamFPUSH:
		return lowerPush(4)
	case isa.FamPOP:
		return lowerPop(8)
	case isa.FamFPOP:
		return lowerPop(4)
	case isa.FamPUSHES:
		return lowerPushRange(8)
	case isa.FamFPUSHES:
		return lowerPushRange(4)
	case isa.FamPOPS:
		return lowerPopRange(8)
	case isa.FamFPOPS:
		return lowerPopRange(4)

	case isa.FamNOP:
		return lowerNop
	case isa.FamFMOD, isa.FamOUT, isa.FamIN, isa.FamFOUT, isa.FamFIN,
		isa.FamDRW, isa.FamTIME, isa.FamSLEEP, isa.FamRAND:
		return lowerService
	}
	return nil
}

func lowerNop(*Compiler, *isa.Inst, *[isa.MaxOperands]operand) {}

// lowerService hands the instruction to the host through a service exit.
func lowerService(c *Compiler, _ *isa.Inst, _ *[isa.MaxOperands]operand) {
	c.serviceExit()
}

// lowerControl is never reached: the compiler stops in front of control
// flow and the dispatch loop interprets it.
func lowerControl(_ *Compiler, in *isa.Inst, _ *[isa.MaxOperands]operand) {
	panic(fmt.Sprintf("dynarec: control-flow instruction %s at %#x reached the compiler", in.Info.Name, in.PC))
}
