package isa

import (
	"encoding/binary"
	"math"

	"despair/pkg/errors"
)

// MaxOperands is the largest operand count of any opcode.
const MaxOperands = 3

// Operand is one decoded operand. Value holds the raw encoded field,
// zero-extended, except for Disp which is sign-extended.
type Operand struct {
	Kind  Kind
	Value uint64
}

// Index returns the register index named by the operand.
func (o Operand) Index() uint8 {
	return uint8(o.Value)
}

// U32 returns the low 32 bits: a global offset, address or immediate.
func (o Operand) U32() uint32 {
	return uint32(o.Value)
}

// Float returns the value of a float immediate.
func (o Operand) Float() float32 {
	return math.Float32frombits(uint32(o.Value))
}

// Signed returns the value as a signed 64-bit integer.
func (o Operand) Signed() int64 {
	return int64(o.Value)
}

// Inst is a decoded instruction.
type Inst struct {
	PC   int64
	Info *Info
	Args [MaxOperands]Operand
}

func (in *Inst) Op() Opcode {
	return in.Info.Op
}

func (in *Inst) Family() Family {
	return in.Info.Family
}

func (in *Inst) Len() int {
	return in.Info.Length
}

// Next returns the address of the following instruction.
func (in *Inst) Next() int64 {
	return in.PC + int64(in.Info.Length)
}

// Peek reads the opcode at pc without decoding operands.
func Peek(code []byte, pc int64) (*Info, error) {
	if pc < 0 || pc+OpcodeSize > int64(len(code)) {
		return nil, errors.New(errors.KindCodeBounds, pc, "no opcode inside code of %d bytes", len(code))
	}
	op := Opcode(binary.LittleEndian.Uint16(code[pc:]))
	info, ok := Lookup(op)
	if !ok {
		return nil, errors.New(errors.KindInvalidOpcode, pc, "opcode %#04x", uint16(op))
	}
	return info, nil
}

// Decode reads the instruction at pc.
func Decode(code []byte, pc int64) (Inst, error) {
	var in Inst
	info, err := Peek(code, pc)
	if err != nil {
		return in, err
	}
	if pc+int64(info.Length) > int64(len(code)) {
		return in, errors.New(errors.KindCodeBounds, pc, "%s truncated: needs %d bytes, %d left",
			info.Name, info.Length, int64(len(code))-pc)
	}
	in.PC = pc
	in.Info = info
	p := code[pc+OpcodeSize:]
	for i, k := range info.Kinds {
		var v uint64
		switch k.Size() {
		case 1:
			v = uint64(p[0])
		case 2:
			v = uint64(binary.LittleEndian.Uint16(p))
		case 4:
			raw := binary.LittleEndian.Uint32(p)
			if k == Disp {
				v = uint64(int64(int32(raw)))
			} else {
				v = uint64(raw)
			}
		case 8:
			v = binary.LittleEndian.Uint64(p)
		}
		in.Args[i] = Operand{Kind: k, Value: v}
		p = p[k.Size():]
	}
	return in, nil
}
