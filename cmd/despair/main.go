package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("despair")

type command struct {
	name    string
	summary string
	run     func(args []string) error
}

var commands = []command{
	{"run", "execute an image", runCommand},
	{"pack", "build an image from raw code and global data", packCommand},
	{"info", "describe an image", infoCommand},
	{"history", "list journaled runs", historyCommand},
	{"monitor", "query a running process", monitorCommand},
	{"selftest", "compare the recompiler against the interpreter", selftestCommand},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: despair <command> [flags]\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.summary)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	name, args := os.Args[1], os.Args[2:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		if err := c.run(args); err != nil {
			fmt.Fprintf(os.Stderr, "despair %s: %s\n", name, err)
			os.Exit(1)
		}
		return
	}
	if name == "-h" || name == "--help" || name == "help" {
		usage()
		return
	}
	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	usage()
	os.Exit(2)
}

// logFlags adds the logging flags shared by every command.
func logFlags(fs *flag.FlagSet) (verbosity *int, file *string) {
	return fs.Int("v", 0, "log verbosity (0 quiet, 1 errors ... 5 debug); overrides the config"),
		fs.String("log-file", "", "write logs to this file instead of stderr")
}

func configureLogging(verbosity int, file string) {
	if file == "" {
		commonlog.Configure(verbosity, nil)
		return
	}
	commonlog.Configure(verbosity, &file)
}
