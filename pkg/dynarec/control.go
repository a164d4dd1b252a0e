package dynarec

import (
	"despair/pkg/errors"
	"despair/pkg/isa"
)

// returnSize is the width of a return address on the stack.
const returnSize = 4

// halt is the program counter that stops the dispatch loop.
const halt = -1

// interpretControl executes a jump, call or return. These are never
// compiled because they decide where the next block starts.
func (c *Core) interpretControl(in *isa.Inst) error {
	switch in.Info.Family {
	case isa.FamJMP:
		c.pc = int64(in.Args[0].U32())
	case isa.FamJMPR:
		c.pc = in.PC + in.Args[0].Signed() + int64(in.Len())
	case isa.FamJC:
		c.pc = in.Next()
		if c.state.Regs[in.Args[0].Index()] == 0 {
			c.pc = int64(in.Args[1].U32())
		}
	case isa.FamJCR:
		c.pc = in.Next()
		if c.state.Regs[in.Args[0].Index()] == 0 {
			c.pc = in.PC + in.Args[1].Signed() + int64(in.Len())
		}
	case isa.FamCALL:
		sp := c.state.SP
		if err := c.stack.Write(sp, returnSize, uint64(in.Next())); err != nil {
			return errors.Wrap(errors.KindStackBounds, in.PC, err, "pushing return address")
		}
		c.state.SP = sp + returnSize
		c.pc = int64(in.Args[0].U32())
	case isa.FamRET:
		c.state.SP -= returnSize
		if c.state.SP < 0 {
			c.pc = halt
			break
		}
		ret, err := c.stack.Read(c.state.SP, returnSize)
		if err != nil {
			return errors.Wrap(errors.KindStackBounds, in.PC, err, "popping return address")
		}
		c.pc = int64(ret)
	default:
		return errors.New(errors.KindInvalidOpcode, in.PC, "%s is not a control-flow instruction", in.Info.Name)
	}
	c.stats.controls.Add(1)
	c.proc.obs.ControlInterpreted(c.ID, in.Info.Family)
	return nil
}
