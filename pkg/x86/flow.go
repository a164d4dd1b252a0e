package x86

import "fmt"

// Cond is a condition code as used by Jcc, SETcc and CMOVcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // below (CF=1, unsigned)
	CondAE Cond = 0x3 // above or equal (CF=0, unsigned)
	CondE  Cond = 0x4 // equal (ZF=1)
	CondNE Cond = 0x5 // not equal (ZF=0)
	CondBE Cond = 0x6 // below or equal (CF=1 or ZF=1, unsigned)
	CondA  Cond = 0x7 // above (CF=0 and ZF=0, unsigned)
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC // less (SF!=OF, signed)
	CondGE Cond = 0xD // greater or equal (SF=OF, signed)
	CondLE Cond = 0xE // less or equal (ZF=1 or SF!=OF, signed)
	CondG  Cond = 0xF // greater (ZF=0 and SF=OF, signed)
)

var condNames = [16]string{
	"o", "no", "b", "ae", "e", "ne", "be", "a",
	"s", "ns", "p", "np", "l", "ge", "le", "g",
}

func (c Cond) String() string {
	return condNames[c&0xF]
}

// Setcc: set reg8 to 1 if cond holds, else 0.
func (a *Assembler) Setcc(cond Cond, reg Reg) int {
	var i inst
	i.rex(false, 0, 0, uint8(reg), needsByteRex(reg))
	i.put(0x0F, 0x90|byte(cond&0xF))
	i.direct(0, uint8(reg))
	return a.put(&i)
}

// JccShort: conditional short jump with an 8-bit displacement (2 bytes).
func (a *Assembler) JccShort(cond Cond, rel8 int8) int {
	var i inst
	i.put(0x70|byte(cond&0xF), byte(rel8))
	return a.put(&i)
}

// Ret: ret
func (a *Assembler) Ret() int {
	var i inst
	i.put(0xC3)
	return a.put(&i)
}

// Push: push reg
func (a *Assembler) Push(reg Reg) int {
	var i inst
	i.rex(false, 0, 0, uint8(reg), false)
	i.put(0x50 | byte(reg&7))
	return a.put(&i)
}

// Pop: pop reg
func (a *Assembler) Pop(reg Reg) int {
	var i inst
	i.rex(false, 0, 0, uint8(reg), false)
	i.put(0x58 | byte(reg&7))
	return a.put(&i)
}

// RepMovs copies rcx elements of w bits from [rsi] to [rdi].
func (a *Assembler) RepMovs(w Width) int {
	var i inst
	i.put(0xF3)
	switch w {
	case W8:
		i.put(0xA4)
	case W16:
		i.put(0x66, 0xA5)
	case W32:
		i.put(0xA5)
	case W64:
		i.put(0x48, 0xA5)
	default:
		panic(fmt.Sprintf("x86: rep movs: unsupported width %d", w))
	}
	return a.put(&i)
}
