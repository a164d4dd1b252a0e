package main

import (
	"flag"
	"fmt"
	"os"

	"despair/pkg/image"
	"despair/pkg/isa"
)

func packCommand(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	codePath := fs.String("code", "", "raw bytecode file (required)")
	globalPath := fs.String("global", "", "raw initial global data file")
	out := fs.String("o", "out.dspx", "output image path")
	stack := fs.Uint("stack", 64*1024, "stack size in bytes")
	data := fs.Uint("data", 4096, "data space size in bytes")
	start := fs.Uint("start", 0, "code start address")
	param := fs.Uint64("param", 0, "value stored at the base of the first core's data space")
	fs.Parse(args)

	if *codePath == "" {
		return fmt.Errorf("-code is required")
	}
	code, err := os.ReadFile(*codePath)
	if err != nil {
		return err
	}
	var global []byte
	if *globalPath != "" {
		if global, err = os.ReadFile(*globalPath); err != nil {
			return err
		}
	}
	if _, err := isa.Peek(code, int64(*start)); err != nil {
		return fmt.Errorf("code start: %w", err)
	}

	img := &image.Image{
		Header: image.Header{
			StackSize: uint32(*stack),
			DataSize:  uint32(*data),
			CodeStart: uint32(*start),
			Param:     *param,
		},
		Code:   code,
		Global: global,
	}
	if err := image.Save(*out, img); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", img.ID(), *out)
	return nil
}

type imageInfo struct {
	ID      string       `yaml:"id"`
	Header  image.Header `yaml:"header"`
	Code    int          `yaml:"codeBytes"`
	Global  int          `yaml:"globalBytes"`
	Opcodes int          `yaml:"instructions"`
	Invalid int64        `yaml:"firstUndecodable,omitempty"`
}

func infoCommand(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected one image path")
	}
	img, err := image.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	info := imageInfo{
		ID:     img.ID(),
		Header: img.Header,
		Code:   len(img.Code),
		Global: len(img.Global),
	}
	// Linear sweep; data embedded in the code space stops it.
	for pc := int64(0); pc < int64(len(img.Code)); {
		in, err := isa.Decode(img.Code, pc)
		if err != nil {
			info.Invalid = pc
			break
		}
		info.Opcodes++
		pc = in.Next()
	}
	return printYAML(os.Stdout, info)
}
