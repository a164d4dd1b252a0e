package dynarec

import (
	"fmt"
	"math"

	"despair/pkg/errors"
	"despair/pkg/isa"
	"despair/pkg/x86"
)

type opKind uint8

const (
	opReg  opKind = iota // integer register, 64-bit
	opMem                // global data at a fixed offset
	opPtr                // memory addressed by a pointer register
	opImm                // integer immediate
	opFReg               // float register
	opFImm               // float immediate, emitted as a deferred constant
)

// operand is the single addressing abstraction every lowering family is
// written against.
type operand struct {
	kind  opKind
	width x86.Width // access width for memory operands
	index uint8     // register, float register or pointer register
	off   int32     // global-data offset
	imm   uint64
	// float marks memory holding an IEEE-754 single. Other 32-bit memory
	// read by a float family is an int32 to convert.
	float bool
}

func (o operand) String() string {
	switch o.kind {
	case opReg:
		return fmt.Sprintf("r%d", o.index)
	case opFReg:
		return fmt.Sprintf("f%d", o.index)
	case opMem:
		if o.float {
			return fmt.Sprintf("g[%#x]:f", o.off)
		}
		return fmt.Sprintf("g[%#x]:%d", o.off, o.width)
	case opPtr:
		if o.float {
			return fmt.Sprintf("[r%d]:f", o.index)
		}
		return fmt.Sprintf("[r%d]:%d", o.index, o.width)
	case opFImm:
		return fmt.Sprintf("%gf", math.Float32frombits(uint32(o.imm)))
	}
	return fmt.Sprintf("$%#x", o.imm)
}

// isMemory reports whether the operand lives outside the register file.
func (o operand) isMemory() bool {
	return o.kind == opMem || o.kind == opPtr
}

// holdsFloat reports whether o is stored as an IEEE-754 single.
func (o operand) holdsFloat() bool {
	return o.kind == opFReg || o.kind == opFImm || o.float
}

func accessWidth(k isa.Kind) x86.Width {
	switch k.Access() {
	case 1:
		return x86.W8
	case 8:
		return x86.W64
	}
	return x86.W32
}

// operandOf converts a decoded operand. Global offsets are checked against
// the global-data size here, so generated code never needs to.
func operandOf(in *isa.Inst, i int, globalSize int) (operand, error) {
	a := in.Args[i]
	switch a.Kind {
	case isa.Reg:
		return operand{kind: opReg, width: x86.W64, index: a.Index()}, nil
	case isa.FReg:
		return operand{kind: opFReg, width: x86.W32, index: a.Index()}, nil
	case isa.Ptr, isa.BytePtr, isa.QuadPtr, isa.FPtr:
		return operand{kind: opPtr, width: accessWidth(a.Kind), index: a.Index(), float: a.Kind.IsFloat()}, nil
	case isa.Mem, isa.ByteMem, isa.QuadMem, isa.FMem:
		w := accessWidth(a.Kind)
		off := int64(a.U32())
		if off+int64(w.Bytes()) > int64(globalSize) {
			return operand{}, errors.New(errors.KindOperandBounds, in.PC,
				"%s: global offset %#x+%d outside %d bytes", in.Info.Name, off, w.Bytes(), globalSize)
		}
		return operand{kind: opMem, width: w, off: int32(off), float: a.Kind.IsFloat()}, nil
	case isa.Imm8, isa.Imm16, isa.Imm32, isa.Imm64:
		return operand{kind: opImm, width: x86.W64, imm: a.Value}, nil
	case isa.FImm:
		return operand{kind: opFImm, width: x86.W32, imm: a.Value}, nil
	}
	return operand{}, errors.New(errors.KindInvalidOpcode, in.PC, "%s: operand %d has kind %s", in.Info.Name, i, a.Kind)
}

// operands converts every operand of in.
func operands(in *isa.Inst, globalSize int) ([isa.MaxOperands]operand, error) {
	var ops [isa.MaxOperands]operand
	for i := range in.Info.Kinds {
		o, err := operandOf(in, i, globalSize)
		if err != nil {
			return ops, err
		}
		ops[i] = o
	}
	return ops, nil
}

// writesFirst reports whether the first operand of f is a destination.
func writesFirst(f isa.Family) bool {
	switch f {
	case isa.FamPUSH, isa.FamPUSHES, isa.FamFPUSH, isa.FamFPUSHES,
		isa.FamOUT, isa.FamFOUT, isa.FamDRW, isa.FamNOP, isa.FamTIME, isa.FamSLEEP, isa.FamRAND:
		return false
	}
	return !f.Control()
}

func reserved(r uint8) bool {
	return r == DataReg || r == GlobalReg
}

// validate rejects instructions that would overwrite a reserved register or
// that name an empty register range.
func validate(in *isa.Inst) error {
	info := in.Info
	switch info.Family {
	case isa.FamPUSHES, isa.FamPOPS, isa.FamFPUSHES, isa.FamFPOPS:
		lo, hi := in.Args[0].Index(), in.Args[1].Index()
		if hi < lo {
			return errors.New(errors.KindOperandBounds, in.PC, "%s: empty register range %d..%d", info.Name, lo, hi)
		}
		if info.Family == isa.FamPOPS && hi >= GlobalReg {
			return errors.New(errors.KindReservedRegister, in.PC, "%s: range %d..%d overwrites r%d/r%d", info.Name, lo, hi, GlobalReg, DataReg)
		}
		return nil
	}
	if len(info.Kinds) > 0 && info.Kinds[0] == isa.Reg && writesFirst(info.Family) && reserved(in.Args[0].Index()) {
		return errors.New(errors.KindReservedRegister, in.PC, "%s writes r%d", info.Name, in.Args[0].Index())
	}
	return nil
}
