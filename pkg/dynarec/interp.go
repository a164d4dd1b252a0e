package dynarec

import (
	"math"
	"time"

	"despair/pkg/devices"
	"despair/pkg/errors"
	"despair/pkg/isa"
	"despair/pkg/ports"
)

// step is the reference evaluator. It runs every instruction in interpret
// mode and performs the host services requested by generated code in JIT
// mode, so both paths share one definition of each effect.
func (c *Core) step(in *isa.Inst) error {
	if err := validate(in); err != nil {
		return err
	}
	ops, err := operands(in, c.global.Size())
	if err != nil {
		return err
	}

	f := in.Info.Family
	switch f {
	case isa.FamMOV, isa.FamMOVP, isa.FamBMOV:
		v, err := c.read(in, ops[1])
		if err != nil {
			return err
		}
		return c.write(in, ops[0], v)

	case isa.FamADD, isa.FamSUB, isa.FamMUL, isa.FamAND, isa.FamOR, isa.FamXOR,
		isa.FamDIV, isa.FamMOD, isa.FamSHL, isa.FamSHR:
		a, err := c.read(in, ops[0])
		if err != nil {
			return err
		}
		b, err := c.read(in, ops[1])
		if err != nil {
			return err
		}
		r, err := arith(in, f, opWidth(ops[0]).Bytes(), a, b)
		if err != nil {
			return err
		}
		return c.write(in, ops[0], r)

	case isa.FamCMPE, isa.FamCMPNE, isa.FamCMPG, isa.FamCMPL, isa.FamCMPGE, isa.FamCMPLE:
		a, err := c.read(in, ops[0])
		if err != nil {
			return err
		}
		b, err := c.read(in, ops[1])
		if err != nil {
			return err
		}
		return c.write(in, ops[0], boolValue(compare(f, int32(a), int32(b))))

	case isa.FamFCMPE, isa.FamFCMPNE, isa.FamFCMPG, isa.FamFCMPL, isa.FamFCMPGE, isa.FamFCMPLE:
		a, b := c.state.FRegs[ops[1].index], c.state.FRegs[ops[2].index]
		return c.write(in, ops[0], boolValue(compareFloat(f, a, b)))

	case isa.FamFMOV, isa.FamFCON:
		v, err := c.readF(in, ops[1])
		if err != nil {
			return err
		}
		return c.writeF(in, ops[0], v)

	case isa.FamFADD, isa.FamFSUB, isa.FamFMUL, isa.FamFDIV, isa.FamFMOD:
		a, err := c.readF(in, ops[0])
		if err != nil {
			return err
		}
		b, err := c.readF(in, ops[1])
		if err != nil {
			return err
		}
		return c.writeF(in, ops[0], floatArith(f, a, b))

	case isa.FamPUSH, isa.FamFPUSH, isa.FamPUSHES, isa.FamFPUSHES:
		return c.push(in, ops)
	case isa.FamPOP, isa.FamFPOP, isa.FamPOPS, isa.FamFPOPS:
		return c.pop(in, ops)

	case isa.FamNOP:
		return nil
	}
	return c.service(in, ops)
}

func boolValue(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// arith computes an integer operation at width bytes (4 or 8). Values are
// zero-extended; the store truncates the result.
func arith(in *isa.Inst, f isa.Family, width int, a, b uint64) (uint64, error) {
	mask := uint64(63)
	if width == 4 {
		mask = 31
	}
	switch f {
	case isa.FamADD:
		return a + b, nil
	case isa.FamSUB:
		return a - b, nil
	case isa.FamMUL:
		return a * b, nil
	case isa.FamAND:
		return a & b, nil
	case isa.FamOR:
		return a | b, nil
	case isa.FamXOR:
		return a ^ b, nil
	case isa.FamSHL:
		return a << (b & mask), nil
	case isa.FamSHR:
		if width == 4 {
			a = uint64(uint32(a))
		}
		return a >> (b & mask), nil
	case isa.FamDIV, isa.FamMOD:
		if width == 4 {
			x, y := int32(a), int32(b)
			if y == 0 || (x == math.MinInt32 && y == -1) {
				return 0, errors.New(errors.KindDivide, in.PC, "%s: %d / %d", in.Info.Name, x, y)
			}
			if f == isa.FamMOD {
				return uint64(uint32(x % y)), nil
			}
			return uint64(uint32(x / y)), nil
		}
		x, y := int64(a), int64(b)
		if y == 0 || (x == math.MinInt64 && y == -1) {
			return 0, errors.New(errors.KindDivide, in.PC, "%s: %d / %d", in.Info.Name, x, y)
		}
		if f == isa.FamMOD {
			return uint64(x % y), nil
		}
		return uint64(x / y), nil
	}
	return 0, errors.New(errors.KindInvalidOpcode, in.PC, "%s is not arithmetic", in.Info.Name)
}

func compare(f isa.Family, a, b int32) bool {
	switch f {
	case isa.FamCMPE:
		return a == b
	case isa.FamCMPNE:
		return a != b
	case isa.FamCMPG:
		return a > b
	case isa.FamCMPL:
		return a < b
	case isa.FamCMPGE:
		return a >= b
	}
	return a <= b
}

// compareFloat follows ucomiss: an unordered pair counts as equal and less.
func compareFloat(f isa.Family, a, b float32) bool {
	unordered := a != a || b != b
	switch f {
	case isa.FamFCMPE:
		return unordered || a == b
	case isa.FamFCMPNE:
		return !unordered && a != b
	case isa.FamFCMPG:
		return !unordered && a > b
	case isa.FamFCMPL:
		return unordered || a < b
	case isa.FamFCMPGE:
		return !unordered && a >= b
	}
	return unordered || a <= b
}

func floatArith(f isa.Family, a, b float32) float32 {
	switch f {
	case isa.FamFADD:
		return a + b
	case isa.FamFSUB:
		return a - b
	case isa.FamFMUL:
		return a * b
	case isa.FamFDIV:
		return a / b
	}
	return float32(math.Mod(float64(a), float64(b)))
}

// cvtss2si rounds to the nearest int32, ties to even. NaN and values
// outside int32 give math.MinInt32.
func cvtss2si(f float32) int32 {
	r := math.RoundToEven(float64(f))
	if r != r || r < math.MinInt32 || r > math.MaxInt32 {
		return math.MinInt32
	}
	return int32(r)
}

// read returns the integer value of o, zero-extended.
func (c *Core) read(in *isa.Inst, o operand) (uint64, error) {
	switch o.kind {
	case opImm:
		return o.imm, nil
	case opReg:
		return uint64(c.state.Regs[o.index]), nil
	case opMem:
		v, err := c.global.Read(int64(o.off), o.width.Bytes())
		if err != nil {
			return 0, errors.Wrap(errors.KindOperandBounds, in.PC, err, in.Info.Name)
		}
		return v, nil
	case opPtr:
		a, off, err := c.proc.space.Resolve(uint64(c.state.Regs[o.index]), o.width.Bytes())
		if err != nil {
			return 0, errors.Wrap(errors.KindBadPointer, in.PC, err, in.Info.Name)
		}
		return a.Read(off, o.width.Bytes())
	}
	return 0, errors.New(errors.KindInvalidOpcode, in.PC, "%s: %s is not an integer operand", in.Info.Name, o)
}

// write stores v to o: registers take all 64 bits, memory the access width.
func (c *Core) write(in *isa.Inst, o operand, v uint64) error {
	switch o.kind {
	case opReg:
		c.state.Regs[o.index] = int64(v)
		return nil
	case opMem:
		if err := c.global.Write(int64(o.off), o.width.Bytes(), v); err != nil {
			return errors.Wrap(errors.KindOperandBounds, in.PC, err, in.Info.Name)
		}
		return nil
	case opPtr:
		a, off, err := c.proc.space.Resolve(uint64(c.state.Regs[o.index]), o.width.Bytes())
		if err != nil {
			return errors.Wrap(errors.KindBadPointer, in.PC, err, in.Info.Name)
		}
		return a.Write(off, o.width.Bytes(), v)
	}
	return errors.New(errors.KindInvalidOpcode, in.PC, "%s: cannot write %s", in.Info.Name, o)
}

// readF returns the float value of o. Integer operands are read as int32
// and converted.
func (c *Core) readF(in *isa.Inst, o operand) (float32, error) {
	switch o.kind {
	case opFImm:
		return math.Float32frombits(uint32(o.imm)), nil
	case opFReg:
		return c.state.FRegs[o.index], nil
	}
	v, err := c.read(in, o)
	if err != nil {
		return 0, err
	}
	if o.isMemory() && o.float {
		return math.Float32frombits(uint32(v)), nil
	}
	return float32(int32(v)), nil
}

// writeF stores f to o. Integer destinations receive f rounded to an
// int32, zero-extended in a register.
func (c *Core) writeF(in *isa.Inst, o operand, f float32) error {
	switch {
	case o.kind == opFReg:
		c.state.FRegs[o.index] = f
		return nil
	case o.float:
		return c.write(in, o, uint64(math.Float32bits(f)))
	}
	return c.write(in, o, uint64(uint32(cvtss2si(f))))
}

// stackRange returns the first register and element size of a stack
// instruction, and how many registers it moves.
func stackRange(f isa.Family, ops [isa.MaxOperands]operand) (first uint8, size, n int) {
	size = 8
	switch f {
	case isa.FamFPUSH, isa.FamFPOP, isa.FamFPUSHES, isa.FamFPOPS:
		size = 4
	}
	switch f {
	case isa.FamPUSHES, isa.FamPOPS, isa.FamFPUSHES, isa.FamFPOPS:
		return ops[0].index, size, int(ops[1].index) - int(ops[0].index) + 1
	}
	return ops[0].index, size, 1
}

func (c *Core) regBits(float bool, r uint8) uint64 {
	if float {
		return uint64(math.Float32bits(c.state.FRegs[r]))
	}
	return uint64(c.state.Regs[r])
}

func (c *Core) setRegBits(float bool, r uint8, v uint64) {
	if float {
		c.state.FRegs[r] = math.Float32frombits(uint32(v))
		return
	}
	c.state.Regs[r] = int64(v)
}

func (c *Core) push(in *isa.Inst, ops [isa.MaxOperands]operand) error {
	first, size, n := stackRange(in.Info.Family, ops)
	sp := c.state.SP
	if !c.stack.InBounds(sp, n*size) {
		return errors.New(errors.KindStackBounds, in.PC, "%s: %d bytes at sp %d overflow the %d-byte stack", in.Info.Name, n*size, sp, c.stack.Size())
	}
	float := size == 4
	for i := 0; i < n; i++ {
		if err := c.stack.Write(sp+int64(i*size), size, c.regBits(float, first+uint8(i))); err != nil {
			return err
		}
	}
	c.state.SP = sp + int64(n*size)
	return nil
}

func (c *Core) pop(in *isa.Inst, ops [isa.MaxOperands]operand) error {
	first, size, n := stackRange(in.Info.Family, ops)
	sp := c.state.SP - int64(n*size)
	if !c.stack.InBounds(sp, n*size) {
		return errors.New(errors.KindStackBounds, in.PC, "%s: %d bytes below sp %d underflow the stack", in.Info.Name, n*size, c.state.SP)
	}
	float := size == 4
	for i := 0; i < n; i++ {
		v, err := c.stack.Read(sp+int64(i*size), size)
		if err != nil {
			return err
		}
		c.setRegBits(float, first+uint8(i), v)
	}
	c.state.SP = sp
	return nil
}

// port returns the port number named by o.
func (c *Core) port(in *isa.Inst, o operand) (uint32, error) {
	p, err := c.read(in, o)
	if err != nil {
		return 0, err
	}
	if p >= ports.Size {
		return 0, errors.New(errors.KindOperandBounds, in.PC, "%s: port %#x out of range", in.Info.Name, p)
	}
	return uint32(p), nil
}

func portError(in *isa.Inst, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*errors.VMError); ok {
		return err
	}
	return errors.Wrap(errors.KindOperandBounds, in.PC, err, in.Info.Name)
}

// service performs the instructions that need the host: port I/O, draw,
// time, sleep and random numbers.
func (c *Core) service(in *isa.Inst, ops [isa.MaxOperands]operand) error {
	switch in.Info.Family {
	case isa.FamOUT:
		p, err := c.port(in, ops[0])
		if err != nil {
			return err
		}
		v, err := c.read(in, ops[1])
		if err != nil {
			return err
		}
		return portError(in, c.ports.Write(p, in.Info.Width, v))

	case isa.FamIN:
		p, err := c.port(in, ops[1])
		if err != nil {
			return err
		}
		v, err := c.ports.Read(p, in.Info.Width)
		if err != nil {
			return portError(in, err)
		}
		return c.write(in, ops[0], v)

	case isa.FamFOUT:
		p, err := c.port(in, ops[0])
		if err != nil {
			return err
		}
		f, err := c.readF(in, ops[1])
		if err != nil {
			return err
		}
		return portError(in, c.ports.WriteFloat(p, f))

	case isa.FamFIN:
		p, err := c.port(in, ops[1])
		if err != nil {
			return err
		}
		f, err := c.ports.ReadFloat(p)
		if err != nil {
			return portError(in, err)
		}
		return c.writeF(in, ops[0], f)

	case isa.FamDRW:
		return c.draw(in, ops)

	case isa.FamTIME:
		c.state.Regs[0] = c.proc.clock.Millis()
		return nil
	case isa.FamSLEEP:
		c.proc.clock.Sleep(time.Millisecond)
		return nil
	case isa.FamRAND:
		c.state.Regs[0] = int64(c.proc.random())
		return nil
	}
	return errors.New(errors.KindInvalidOpcode, in.PC, "%s has no evaluator", in.Info.Name)
}

func (c *Core) draw(in *isa.Inst, ops [isa.MaxOperands]operand) error {
	call := devices.DrawCall{
		X: int32(c.state.Regs[ops[0].index]),
		Y: int32(c.state.Regs[ops[1].index]),
	}
	if ops[2].kind == opMem {
		addr, err := c.global.Read(int64(ops[2].off), 8)
		if err != nil {
			return errors.Wrap(errors.KindOperandBounds, in.PC, err, "reading image address")
		}
		call.Image = addr
	} else {
		call.Image = uint64(c.state.Regs[ops[2].index])
	}
	effects, err := c.ports.Read(ports.GPUEffects, 1)
	if err != nil {
		return portError(in, err)
	}
	rotation, err := c.ports.Read(ports.GPURotation, 2)
	if err != nil {
		return portError(in, err)
	}
	call.Effects = uint8(effects)
	call.Rotation = uint16(rotation)
	if err := c.proc.gpu.Draw(call); err != nil {
		return errors.Wrap(errors.KindResource, in.PC, err, "draw")
	}
	return nil
}
