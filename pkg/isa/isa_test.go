package isa

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	vmerrors "despair/pkg/errors"
)

func TestTableIsDense(t *testing.T) {
	if Count() != 391 {
		t.Errorf("Count() = %d, want 391", Count())
	}
	for i, info := range All() {
		if int(info.Op) != i {
			t.Fatalf("table[%d].Op = %d", i, info.Op)
		}
		op, ok := ByName(info.Name)
		if !ok || op != info.Op {
			t.Errorf("ByName(%s) = %d, %v", info.Name, op, ok)
		}
	}
	if MustOp("MOV_R_R") != 0 || MustOp("MOV_R_IMMI64") != 12 || MustOp("ADD_R_R") != 13 {
		t.Errorf("numbering does not follow table order")
	}
	if _, ok := Lookup(Opcode(Count())); ok {
		t.Errorf("Lookup past the end succeeded")
	}
}

func TestLengths(t *testing.T) {
	want := map[string]int{
		"MOV_R_R":         4,
		"MOV_R_M":         7,
		"MOV_M_M":         10,
		"MOV_R_IMMI":      7,
		"MOV_M_IMMI":      10,
		"MOV_R_IMMI64":    11,
		"ADD_MR_MR":       4,
		"MOVP_R_QM":       7,
		"BMOV_BM_IMMI8":   7,
		"BMOV_MBR_IMMI8":  4,
		"SHL_R_IMMI8":     4,
		"SHR_M_IMMI8":     7,
		"PUSH_R":          3,
		"PUSHES_R_R":      4,
		"FPOPS_FR_FR":     4,
		"CMPGE_R_IMMI":    7,
		"FCMPLE_R_FR_FR":  5,
		"FCON_FR_R":       4,
		"FMOV_FM_FM":      10,
		"FMOV_FM_FIMMI":   10,
		"FMOV_MFR_MFR":    4,
		"FCON_M_FIMMI":    10,
		"FCON_MFR_IMMI":   7,
		"FADD_MFR_M":      7,
		"FSUB_M_FM":       10,
		"SHL_MR_M":        7,
		"SHR_M_MR":        7,
		"BMOV_BM_BM":      10,
		"BMOV_MBR_MBR":    4,
		"FADD_FR_FIMMI":   7,
		"FMOD_R_FR":       4,
		"OUT_R_IMMI8":     4,
		"OUT_R_IMMI16":    5,
		"OUT_R_IMMI32":    7,
		"OUT_R_IMMI64":    11,
		"OUT_IMMI_R64":    7,
		"OUT_R_R16":       4,
		"OUT_IMMI_IMMI64": 14,
		"IN_R32_IMMI":     7,
		"IN_R8_R":         4,
		"FOUT_IMMI_FIMMI": 10,
		"FIN_FR_IMMI":     7,
		"DRW_R_R_R":       5,
		"DRW_R_R_M":       8,
		"NOP":             2,
		"JMP_ADDR":        6,
		"JMPR_DISP":       6,
		"JC_R_ADDR":       7,
		"JCR_R_DISP":      7,
		"CALL_ADDR":       6,
		"RET":             2,
	}
	for name, n := range want {
		info, _ := Lookup(MustOp(name))
		if info.Length != n {
			t.Errorf("%s length = %d, want %d", name, info.Length, n)
		}
	}
}

func TestFamilyModes(t *testing.T) {
	count := map[Family]int{}
	for _, info := range All() {
		count[info.Family]++
	}
	for f, want := range map[Family]int{
		FamMOV: 13, FamADD: 12, FamSHL: 12, FamSHR: 12, FamBMOV: 8,
		FamFCON: 24, FamFMOV: 12,
		FamFADD: 29, FamFSUB: 29, FamFMUL: 29, FamFDIV: 29, FamFMOD: 29,
		FamCMPE: 2, FamFCMPE: 1,
	} {
		if count[f] != want {
			t.Errorf("%s has %d modes, want %d", f, count[f], want)
		}
	}

	// Float memory is spelled FM and MFR; M and MR stay integer memory.
	for name, want := range map[string][]Kind{
		"FADD_FR_FM":   {FReg, FMem},
		"FADD_FR_M":    {FReg, Mem},
		"FADD_MFR_MR":  {FPtr, Ptr},
		"FCON_R_MFR":   {Reg, FPtr},
		"FCON_FM_IMMI": {FMem, Imm32},
		"FMOV_FM_MFR":  {FMem, FPtr},
	} {
		info, _ := Lookup(MustOp(name))
		if diff := cmp.Diff(want, info.Kinds); diff != "" {
			t.Errorf("%s kinds (-want +got):\n%s", name, diff)
		}
	}
	for _, gone := range []string{"FMOV_M_M", "FADD_FM_FM", "FADD_FM_MFR", "FMOV_R_FR"} {
		if _, ok := ByName(gone); ok {
			t.Errorf("%s is defined", gone)
		}
	}
}

func TestFloatKinds(t *testing.T) {
	for _, k := range []Kind{FReg, FMem, FPtr, FImm} {
		if !k.IsFloat() {
			t.Errorf("%s is not float", k)
		}
	}
	for _, k := range []Kind{Reg, Mem, Ptr, Imm32} {
		if k.IsFloat() {
			t.Errorf("%s is float", k)
		}
	}
	if !FMem.IsGlobal() || !FPtr.IsPointer() || !FPtr.NamesRegister() {
		t.Errorf("float memory kinds are not memory")
	}
	if FMem.Access() != 4 || FPtr.Access() != 4 || FMem.Size() != 4 || FPtr.Size() != 1 {
		t.Errorf("float memory widths wrong")
	}
}

func TestPortWidths(t *testing.T) {
	for name, w := range map[string]int{
		"OUT_R_IMMI8": 1, "OUT_IMMI_R16": 2, "OUT_R_R32": 4, "OUT_IMMI_IMMI64": 8,
		"IN_R8_IMMI": 1, "IN_R64_R": 8, "FOUT_IMMI_FR": 4,
	} {
		info, _ := Lookup(MustOp(name))
		if info.Width != w {
			t.Errorf("%s width = %d, want %d", name, info.Width, w)
		}
	}
}

func TestControlFamilies(t *testing.T) {
	var control []string
	for _, info := range All() {
		if info.Control() {
			control = append(control, info.Name)
		}
	}
	want := []string{"JMP_ADDR", "JMPR_DISP", "JC_R_ADDR", "JCR_R_DISP", "CALL_ADDR", "RET"}
	if diff := cmp.Diff(want, control); diff != "" {
		t.Errorf("control opcodes (-want +got):\n%s", diff)
	}
}

func TestDecode(t *testing.T) {
	code := NewBuilder().
		Emit("MOV_R_IMMI", 3, 0xDEADBEEF).
		Emit("FADD_M_FIMMI", 16, F(1.5)).
		Emit("MOV_R_IMMI64", 7, 0x0102030405060708).
		Emit("JCR_R_DISP", 9, I(-7)).
		MustBytes()

	in, err := Decode(code, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Info.Name != "MOV_R_IMMI" || in.Args[0].Index() != 3 || in.Args[1].U32() != 0xDEADBEEF {
		t.Errorf("MOV_R_IMMI decoded as %s %+v", in.Info.Name, in.Args)
	}
	if in.Next() != 7 {
		t.Errorf("Next = %d, want 7", in.Next())
	}

	in, err = Decode(code, 7)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if in.Args[0].U32() != 16 || in.Args[1].Float() != 1.5 {
		t.Errorf("FADD_M_FIMMI args = %+v", in.Args)
	}

	in, _ = Decode(code, 17)
	if in.Args[1].Value != 0x0102030405060708 {
		t.Errorf("IMMI64 = %#x", in.Args[1].Value)
	}

	in, _ = Decode(code, 28)
	if in.Family() != FamJCR || in.Args[1].Signed() != -7 {
		t.Errorf("JCR disp = %d, want -7", in.Args[1].Signed())
	}
}

func TestDecodeErrors(t *testing.T) {
	code := NewBuilder().Emit("MOV_R_IMMI", 0, 1).MustBytes()

	tests := []struct {
		name string
		code []byte
		pc   int64
		want error
	}{
		{"past end", code, int64(len(code)), vmerrors.ErrCodeBounds},
		{"negative", code, -1, vmerrors.ErrCodeBounds},
		{"half opcode", []byte{0x00}, 0, vmerrors.ErrCodeBounds},
		{"truncated operands", code[:5], 0, vmerrors.ErrCodeBounds},
		{"unknown opcode", []byte{0xFF, 0xFF}, 0, vmerrors.ErrInvalidOpcode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.code, tt.pc)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuilderLabels(t *testing.T) {
	b := NewBuilder()
	b.Label("top").
		Emit("NOP").
		Branch("JCR_R_DISP", "end", 4).
		Branch("JMPR_DISP", "top").
		Branch("CALL_ADDR", "end").
		Label("end").
		Emit("RET")
	code, err := b.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}

	jcr, _ := Decode(code, 2)
	if got := jcr.Next() + jcr.Args[1].Signed(); got != 21 {
		t.Errorf("JCR target = %d, want 21", got)
	}
	jmpr, _ := Decode(code, 9)
	if got := jmpr.Next() + jmpr.Args[0].Signed(); got != 0 {
		t.Errorf("JMPR target = %d, want 0", got)
	}
	call, _ := Decode(code, 15)
	if call.Args[0].U32() != 21 {
		t.Errorf("CALL target = %d, want 21", call.Args[0].U32())
	}
}

func TestBuilderErrors(t *testing.T) {
	if _, err := NewBuilder().Emit("MOV_R_R", 1).Bytes(); err == nil {
		t.Errorf("wrong arity accepted")
	}
	if _, err := NewBuilder().Emit("BOGUS").Bytes(); err == nil {
		t.Errorf("unknown mnemonic accepted")
	}
	if _, err := NewBuilder().Emit("MOV_R_R", 256, 0).Bytes(); err == nil {
		t.Errorf("register 256 accepted")
	}
	if _, err := NewBuilder().Branch("JMP_ADDR", "nowhere").Bytes(); err == nil {
		t.Errorf("undefined label accepted")
	}
}
