package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"

	"despair/pkg/dynarec"
	"despair/pkg/errors"
	"despair/pkg/image"
	"despair/pkg/isa"
)

type selftestCase struct {
	name  string
	build func(b *isa.Builder)
}

var selftestCases = []selftestCase{
	{"factorial", func(b *isa.Builder) {
		b.Emit("MOV_R_IMMI", 0, 1).
			Emit("MOV_R_IMMI", 1, 10).
			Label("loop").
			Emit("MUL_R_R", 0, 1).
			Emit("SUB_R_IMMI", 1, 1).
			Emit("MOV_R_R", 2, 1).
			Emit("CMPE_R_IMMI", 2, 0).
			Branch("JC_R_ADDR", "loop", 2).
			Emit("MOV_M_R", 0, 0).
			Emit("RET")
	}},
	{"float", func(b *isa.Builder) {
		b.Emit("FMOV_FR_FIMMI", 0, isa.F(1.5)).
			Emit("FMUL_FR_FIMMI", 0, isa.F(3)).
			Emit("FADD_FR_FIMMI", 0, isa.F(0.25)).
			Emit("FMOV_FM_FR", 4, 0).
			Emit("FCON_R_FR", 3, 0).
			Emit("MOV_M_R", 8, 3).
			Emit("RET")
	}},
	{"stack", func(b *isa.Builder) {
		b.Emit("MOV_R_IMMI", 3, 7).
			Emit("PUSH_R", 3).
			Branch("CALL_ADDR", "double").
			Emit("POP_R", 4).
			Emit("MOV_M_R", 12, 4).
			Emit("RET").
			Label("double").
			Emit("ADD_R_R", 3, 3).
			Emit("MOV_M_R", 16, 3).
			Emit("RET")
	}},
	{"bitwise", func(b *isa.Builder) {
		b.Emit("MOV_R_IMMI", 5, 0xF0).
			Emit("SHR_R_IMMI8", 5, 4).
			Emit("XOR_R_IMMI", 5, 0xFF).
			Emit("SHL_R_IMMI8", 5, 2).
			Emit("OR_R_IMMI", 5, 1).
			Emit("MOV_M_R", 20, 5).
			Emit("RET")
	}},
}

type selftestResult struct {
	Name  string   `yaml:"name"`
	Modes []string `yaml:"modes"`
	Match bool     `yaml:"match"`
	Error string   `yaml:"error,omitempty"`
}

func selftestCommand(args []string) error {
	fs := flag.NewFlagSet("selftest", flag.ExitOnError)
	verbosity, logFile := logFlags(fs)
	fs.Parse(args)
	configureLogging(*verbosity, *logFile)

	var results []selftestResult
	failed := 0
	for _, tc := range selftestCases {
		r := runSelftest(tc)
		if !r.Match {
			failed++
		}
		results = append(results, r)
	}
	if err := printYAML(os.Stdout, results); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d programs diverged", failed, len(results))
	}
	return nil
}

func runSelftest(tc selftestCase) selftestResult {
	r := selftestResult{Name: tc.name}
	b := isa.NewBuilder()
	tc.build(b)
	code, err := b.Bytes()
	if err != nil {
		r.Error = err.Error()
		return r
	}
	img := &image.Image{
		Header: image.Header{StackSize: 256, DataSize: 16},
		Code:   code,
		Global: make([]byte, 32),
	}

	var reference []byte
	for _, mode := range []dynarec.Mode{dynarec.ModeInterpret, dynarec.ModeJIT} {
		global, err := runImage(img, mode)
		if errors.KindOf(err) == errors.KindUnsupportedHost {
			log.Infof("%s: skipping %s mode: %s", tc.name, mode, err)
			continue
		}
		if err != nil {
			r.Error = fmt.Sprintf("%s: %s", mode, err)
			return r
		}
		r.Modes = append(r.Modes, mode.String())
		if reference == nil {
			reference = global
			continue
		}
		if !bytes.Equal(reference, global) {
			r.Error = fmt.Sprintf("%s global data % x, interpreter % x", mode, global, reference)
			return r
		}
	}
	r.Match = true
	return r
}

func runImage(img *image.Image, mode dynarec.Mode) ([]byte, error) {
	p, err := dynarec.NewProcess(img, dynarec.Options{Mode: mode, Seed: 1})
	if err != nil {
		return nil, err
	}
	defer p.Close()
	if err := p.Run(context.Background()); err != nil {
		return nil, err
	}
	return bytes.Clone(p.Global().Bytes()), nil
}
