package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"despair/pkg/dynarec"
)

// interactive reports whether stdout is a terminal. Pipes and files get
// YAML instead of tables.
func interactive() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func printStats(w io.Writer, stats []dynarec.Stats) error {
	if !interactive() {
		return printYAML(w, stats)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "core\tcompiled\texecuted\thits\texits\tcontrols\tinterpreted\tcode bytes\t")
	for _, s := range stats {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t\n",
			s.Core, s.Compiled, s.Executed, s.Hits, s.ServiceExits, s.Controls, s.Interpreted, s.CodeBytes)
	}
	return tw.Flush()
}
