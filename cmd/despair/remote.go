package main

import (
	"context"
	"crypto/ed25519"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"despair/pkg/journal"
	"despair/pkg/monitor"
)

func historyCommand(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	path := fs.String("journal", "", "journal directory")
	img := fs.String("image", "", "only list runs of this image ID")
	id := fs.String("id", "", "show one run")
	remove := fs.Bool("delete", false, "delete the run named by -id")
	fs.Parse(args)

	if *path == "" {
		return fmt.Errorf("-journal is required")
	}
	j, err := journal.Open(*path)
	if err != nil {
		return err
	}
	defer j.Close()

	if *id == "" {
		records, err := j.List(*img)
		if err != nil {
			return err
		}
		return printYAML(os.Stdout, records)
	}

	u, err := uuid.Parse(*id)
	if err != nil {
		return fmt.Errorf("-id: %w", err)
	}
	if *remove {
		return j.Delete(u)
	}
	r, err := j.Get(u)
	if err != nil {
		return err
	}
	return printYAML(os.Stdout, r)
}

func monitorCommand(args []string) error {
	fs := flag.NewFlagSet("monitor", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7400", "UDP address of the monitor server")
	pin := fs.String("pin", "", "expected server key, as printed by run")
	ping := fs.Bool("ping", false, "measure a round trip instead of fetching a snapshot")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	fs.Parse(args)

	var pinned ed25519.PublicKey
	if *pin != "" {
		b, err := base58.Decode(strings.TrimPrefix(*pin, "m"))
		if err != nil {
			return fmt.Errorf("-pin: %w", err)
		}
		if len(b) != ed25519.PublicKeySize {
			return fmt.Errorf("-pin: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
		}
		pinned = b
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c, err := monitor.Dial(ctx, *addr, pinned)
	if err != nil {
		return err
	}
	defer c.Close()

	if *ping {
		rtt, err := c.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", *addr, rtt)
		return nil
	}
	r, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	return printYAML(os.Stdout, r)
}
