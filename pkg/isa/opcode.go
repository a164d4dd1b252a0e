// Package isa describes the bytecode instruction set: a dense opcode table,
// a decoder and a small emitter.
//
// Every instruction is a 16-bit little-endian opcode followed by its
// operands at fixed widths, so the length of an instruction depends only on
// its opcode.
package isa

import (
	"fmt"
	"strings"
)

// Opcode is the 16-bit instruction selector.
type Opcode uint16

// OpcodeSize is the encoded width of an opcode.
const OpcodeSize = 2

// Family groups opcodes that share semantics and differ only in addressing
// mode.
type Family uint8

const (
	FamMOV Family = iota
	FamADD
	FamSUB
	FamMUL
	FamDIV
	FamMOD
	FamAND
	FamOR
	FamXOR
	FamMOVP
	FamBMOV
	FamSHL
	FamSHR
	FamPUSH
	FamPOP
	FamPUSHES
	FamPOPS
	FamFPUSH
	FamFPOP
	FamFPUSHES
	FamFPOPS
	FamCMPE
	FamCMPNE
	FamCMPG
	FamCMPL
	FamCMPGE
	FamCMPLE
	FamFCMPE
	FamFCMPNE
	FamFCMPG
	FamFCMPL
	FamFCMPGE
	FamFCMPLE
	FamFCON
	FamFMOV
	FamFADD
	FamFSUB
	FamFMUL
	FamFDIV
	FamFMOD
	FamOUT
	FamIN
	FamFOUT
	FamFIN
	FamDRW
	FamNOP
	FamTIME
	FamSLEEP
	FamRAND
	FamJMP
	FamJMPR
	FamJC
	FamJCR
	FamCALL
	FamRET
	numFamilies
)

var familyNames = [numFamilies]string{
	"MOV", "ADD", "SUB", "MUL", "DIV", "MOD", "AND", "OR", "XOR",
	"MOVP", "BMOV", "SHL", "SHR",
	"PUSH", "POP", "PUSHES", "POPS", "FPUSH", "FPOP", "FPUSHES", "FPOPS",
	"CMPE", "CMPNE", "CMPG", "CMPL", "CMPGE", "CMPLE",
	"FCMPE", "FCMPNE", "FCMPG", "FCMPL", "FCMPGE", "FCMPLE",
	"FCON", "FMOV", "FADD", "FSUB", "FMUL", "FDIV", "FMOD",
	"OUT", "IN", "FOUT", "FIN", "DRW",
	"NOP", "TIME", "SLEEP", "RAND",
	"JMP", "JMPR", "JC", "JCR", "CALL", "RET",
}

func (f Family) String() string {
	if f < numFamilies {
		return familyNames[f]
	}
	return fmt.Sprintf("family(%d)", uint8(f))
}

// Control reports whether the family transfers control. Control-flow
// instructions end a basic block and are never compiled.
func (f Family) Control() bool {
	return f >= FamJMP && f <= FamRET
}

// Info describes one opcode.
type Info struct {
	Op     Opcode
	Name   string
	Family Family
	Kinds  []Kind
	Length int // opcode plus operands, in bytes
	Width  int // port value width in bytes, OUT and IN only
}

func (i *Info) Control() bool {
	return i.Family.Control()
}

func (i *Info) String() string {
	return i.Name
}

var (
	table  []Info
	byName = map[string]Opcode{}
)

var intModes = []string{
	"R_R", "R_M", "R_MR", "M_R", "M_M", "M_MR", "MR_R", "MR_M", "MR_MR",
	"R_IMMI", "M_IMMI", "MR_IMMI",
}

// Float families spell float memory FM and MFR. A plain M or MR operand
// there is an int32, converted on access like an integer register.
var (
	intLocs   = []string{"R", "M", "MR"}
	intSrcs   = []string{"R", "M", "MR", "IMMI"}
	floatLocs = []string{"FR", "FM", "MFR"}
	floatSrcs = []string{"FR", "FM", "MFR", "FIMMI"}
)

// floatArithModes pairs a float destination with any source, and an integer
// destination with a float source. Two float memory operands never meet.
var floatArithModes = []string{
	"FR_FR", "FR_FM", "FR_MFR", "FR_FIMMI", "FR_R", "FR_M", "FR_MR",
	"FM_FR", "FM_FIMMI", "FM_R", "FM_M", "FM_MR",
	"MFR_FR", "MFR_FIMMI", "MFR_R", "MFR_M", "MFR_MR",
	"R_FR", "R_FM", "R_MFR", "R_FIMMI",
	"M_FR", "M_FM", "M_MFR", "M_FIMMI",
	"MR_FR", "MR_FM", "MR_MFR", "MR_FIMMI",
}

// cross returns every dst_src mode.
func cross(dsts, srcs []string) []string {
	modes := make([]string, 0, len(dsts)*len(srcs))
	for _, d := range dsts {
		for _, s := range srcs {
			modes = append(modes, d+"_"+s)
		}
	}
	return modes
}

func init() {
	for _, f := range []Family{FamMOV, FamADD, FamSUB, FamMUL, FamDIV, FamMOD, FamAND, FamOR, FamXOR} {
		define(f, 0, intModes...)
		if f == FamMOV {
			define(f, 0, "R_IMMI64")
		}
	}
	define(FamMOVP, 0, "R_QM", "QM_R", "R_MQR", "MQR_R")
	define(FamBMOV, 0, "R_BM", "BM_R", "R_MBR", "MBR_R", "BM_IMMI8", "MBR_IMMI8", "BM_BM", "MBR_MBR")
	for _, f := range []Family{FamSHL, FamSHR} {
		define(f, 0, cross(intLocs, []string{"R", "M", "MR", "IMMI8"})...)
	}

	define(FamPUSH, 0, "R")
	define(FamPOP, 0, "R")
	define(FamPUSHES, 0, "R_R")
	define(FamPOPS, 0, "R_R")
	define(FamFPUSH, 0, "FR")
	define(FamFPOP, 0, "FR")
	define(FamFPUSHES, 0, "FR_FR")
	define(FamFPOPS, 0, "FR_FR")

	for f := FamCMPE; f <= FamCMPLE; f++ {
		define(f, 0, "R_R", "R_IMMI")
	}
	for f := FamFCMPE; f <= FamFCMPLE; f++ {
		define(f, 0, "R_FR_FR")
	}

	define(FamFCON, 0, cross(intLocs, floatSrcs)...)
	define(FamFCON, 0, cross(floatLocs, intSrcs)...)
	define(FamFMOV, 0, cross(floatLocs, floatSrcs)...)
	for f := FamFADD; f <= FamFMOD; f++ {
		define(f, 0, floatArithModes...)
	}

	for _, w := range []int{1, 2, 4, 8} {
		bits := fmt.Sprint(w * 8)
		define(FamOUT, w, "R_IMMI"+bits, "IMMI_R"+bits, "R_R"+bits, "IMMI_IMMI"+bits)
	}
	for _, w := range []int{1, 2, 4, 8} {
		bits := fmt.Sprint(w * 8)
		define(FamIN, w, "R"+bits+"_IMMI", "R"+bits+"_R")
	}
	define(FamFOUT, 4, "IMMI_FR", "IMMI_FIMMI")
	define(FamFIN, 4, "FR_IMMI")
	define(FamDRW, 0, "R_R_R", "R_R_M")

	define(FamNOP, 0, "")
	define(FamTIME, 0, "")
	define(FamSLEEP, 0, "")
	define(FamRAND, 0, "")

	define(FamJMP, 0, "ADDR")
	define(FamJMPR, 0, "DISP")
	define(FamJC, 0, "R_ADDR")
	define(FamJCR, 0, "R_DISP")
	define(FamCALL, 0, "ADDR")
	define(FamRET, 0, "")
}

// define appends one opcode per mode. Mode tokens name operand kinds; port
// tokens such as R16 or IMMI32 carry the value width, which the family's
// width already records, so they decode to the plain kind.
func define(f Family, width int, modes ...string) {
	for _, mode := range modes {
		name := f.String()
		var kinds []Kind
		if mode != "" {
			name += "_" + mode
			for _, tok := range strings.Split(mode, "_") {
				kinds = append(kinds, parseKind(f, tok))
			}
		}
		length := OpcodeSize
		for _, k := range kinds {
			length += k.Size()
		}
		op := Opcode(len(table))
		if _, dup := byName[name]; dup {
			panic("isa: duplicate mnemonic " + name)
		}
		table = append(table, Info{
			Op:     op,
			Name:   name,
			Family: f,
			Kinds:  kinds,
			Length: length,
			Width:  width,
		})
		byName[name] = op
	}
}

func parseKind(f Family, tok string) Kind {
	if k, ok := kindTokens[tok]; ok {
		return k
	}
	if f == FamOUT || f == FamIN {
		switch tok {
		case "R8", "R16", "R32", "R64":
			return Reg
		case "IMMI32":
			return Imm32
		}
	}
	panic(fmt.Sprintf("isa: unknown operand token %q in %s", tok, f))
}

// Lookup returns the description of op.
func Lookup(op Opcode) (*Info, bool) {
	if int(op) >= len(table) {
		return nil, false
	}
	return &table[op], true
}

// ByName returns the opcode with the given mnemonic.
func ByName(name string) (Opcode, bool) {
	op, ok := byName[name]
	return op, ok
}

// MustOp is ByName for mnemonics known at compile time.
func MustOp(name string) Opcode {
	op, ok := byName[name]
	if !ok {
		panic("isa: unknown mnemonic " + name)
	}
	return op
}

// Count returns the number of defined opcodes.
func Count() int {
	return len(table)
}

// All returns every opcode description in opcode order.
func All() []Info {
	return table
}

func (op Opcode) String() string {
	if info, ok := Lookup(op); ok {
		return info.Name
	}
	return fmt.Sprintf("op(%#04x)", uint16(op))
}
