package isa

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder emits bytecode programmatically. It resolves forward and backward
// label references for ADDR and DISP operands and nothing else.
type Builder struct {
	code   []byte
	labels map[string]int64
	fixups []fixup
	err    error
}

type fixup struct {
	at    int   // offset of the operand field
	pc    int64 // address of the instruction
	next  int64 // address of the following instruction
	kind  Kind
	label string
}

func NewBuilder() *Builder {
	return &Builder{labels: map[string]int64{}}
}

// F returns the operand value of a float immediate.
func F(f float32) uint64 {
	return uint64(math.Float32bits(f))
}

// I returns the operand value of a signed immediate.
func I(v int64) uint64 {
	return uint64(v)
}

// PC returns the address of the next emitted instruction.
func (b *Builder) PC() int64 {
	return int64(len(b.code))
}

// Label binds name to the current address.
func (b *Builder) Label(name string) *Builder {
	if _, ok := b.labels[name]; ok {
		b.fail(fmt.Errorf("label %q defined twice", name))
		return b
	}
	b.labels[name] = b.PC()
	return b
}

// Emit appends one instruction. Operand values are truncated to their
// encoded width; register operands must fit in one byte.
func (b *Builder) Emit(name string, args ...uint64) *Builder {
	info, ok := b.info(name)
	if !ok {
		return b
	}
	if len(args) != len(info.Kinds) {
		b.fail(fmt.Errorf("%s takes %d operands, got %d", name, len(info.Kinds), len(args)))
		return b
	}
	b.encode(info, args)
	return b
}

// Branch appends a control-flow instruction whose ADDR or DISP operand
// refers to label. args supply the remaining operands in order.
func (b *Builder) Branch(name, label string, args ...uint64) *Builder {
	info, ok := b.info(name)
	if !ok {
		return b
	}
	full := make([]uint64, 0, len(info.Kinds))
	slot := -1
	for i, k := range info.Kinds {
		if k == Addr || k == Disp {
			slot = i
			full = append(full, 0)
			continue
		}
		if len(args) == 0 {
			b.fail(fmt.Errorf("%s: missing operand %d", name, i))
			return b
		}
		full = append(full, args[0])
		args = args[1:]
	}
	if slot < 0 || len(args) != 0 {
		b.fail(fmt.Errorf("%s cannot branch to a label with these operands", name))
		return b
	}
	pc := b.PC()
	at := len(b.code) + OpcodeSize
	for _, k := range info.Kinds[:slot] {
		at += k.Size()
	}
	b.encode(info, full)
	b.fixups = append(b.fixups, fixup{
		at:    at,
		pc:    pc,
		next:  pc + int64(info.Length),
		kind:  info.Kinds[slot],
		label: label,
	})
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p ...byte) *Builder {
	b.code = append(b.code, p...)
	return b
}

// Bytes resolves labels and returns the program.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, len(b.code))
	copy(out, b.code)
	for _, f := range b.fixups {
		target, ok := b.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q at %#x", f.label, f.pc)
		}
		v := uint32(target)
		if f.kind == Disp {
			v = uint32(int32(target - f.next))
		}
		binary.LittleEndian.PutUint32(out[f.at:], v)
	}
	return out, nil
}

// MustBytes is Bytes for programs built in tests.
func (b *Builder) MustBytes() []byte {
	code, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return code
}

func (b *Builder) info(name string) (*Info, bool) {
	if b.err != nil {
		return nil, false
	}
	op, ok := ByName(name)
	if !ok {
		b.fail(fmt.Errorf("unknown mnemonic %q", name))
		return nil, false
	}
	info, _ := Lookup(op)
	return info, true
}

func (b *Builder) encode(info *Info, args []uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(info.Op))
	b.code = append(b.code, buf[:OpcodeSize]...)
	for i, k := range info.Kinds {
		v := args[i]
		if k.NamesRegister() && v > 0xFF {
			b.fail(fmt.Errorf("%s: register %d out of range", info.Name, v))
			return
		}
		binary.LittleEndian.PutUint64(buf[:], v)
		b.code = append(b.code, buf[:k.Size()]...)
	}
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}
