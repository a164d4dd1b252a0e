package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"despair/pkg/config"
	"despair/pkg/dynarec"
	"despair/pkg/image"
	"despair/pkg/journal"
	"despair/pkg/metrics"
	"despair/pkg/monitor"
)

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a despair.toml file")
	mode := fs.String("mode", "", "execution mode: jit or interpreter")
	journalPath := fs.String("journal", "", "record the run in this journal directory")
	monitorAddr := fs.String("monitor", "", "serve snapshots over QUIC on this UDP address")
	metricsAddr := fs.String("metrics", "", "serve Prometheus metrics on this TCP address")
	seed := fs.Uint64("seed", 0, "seed for RAND (0 picks one)")
	verbosity, logFile := logFlags(fs)
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected one image path, got %d arguments", fs.NArg())
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *journalPath != "" {
		cfg.Journal.Path = *journalPath
	}
	if *monitorAddr != "" {
		cfg.Monitor.Addr = *monitorAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *seed != 0 {
		cfg.Engine.Seed = *seed
	}
	if *verbosity != 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *logFile != "" {
		cfg.Log.File = *logFile
	}
	configureLogging(cfg.Log.Verbosity, cfg.Log.File)

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	img, err := image.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	id := img.ID()

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		obs, err := metrics.New(reg)
		if err != nil {
			return err
		}
		opts.Observer = obs
		srv, err := metrics.Listen(cfg.Metrics.Addr, reg)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer srv.Shutdown(context.Background())
	}

	p, err := dynarec.NewProcess(img, opts)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitor.Addr != "" {
		key, err := monitorKey(cfg.Monitor.Key)
		if err != nil {
			return err
		}
		ms, err := monitor.Listen(cfg.Monitor.Addr, key, p, id, opts.Mode.String())
		if err != nil {
			return err
		}
		defer ms.Close()
		go func() {
			if err := ms.Serve(ctx); err != nil {
				log.Errorf("monitor: %s", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "monitor on %s, key %s\n", ms.Addr(), monitor.Name(ms.PublicKey()))
	}

	log.Infof("running image %s in %s mode", id, opts.Mode)
	started := time.Now()
	runErr := p.Run(ctx)
	elapsed := time.Since(started)
	stats := p.Snapshot()

	if cfg.Journal.Path != "" {
		if err := record(cfg.Journal.Path, &journal.Record{
			Image:   id,
			Mode:    opts.Mode.String(),
			Started: started,
			Elapsed: elapsed,
			Error:   errString(runErr),
			Cores:   stats,
		}); err != nil {
			log.Errorf("journal: %s", err)
		}
	}

	if err := printStats(os.Stdout, stats); err != nil {
		return err
	}
	if errors.Is(runErr, context.Canceled) {
		return errors.New("interrupted")
	}
	return runErr
}

func record(path string, r *journal.Record) error {
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()
	id, err := j.Put(r)
	if err != nil {
		return err
	}
	log.Infof("recorded run %s", id)
	return nil
}

// monitorKey decodes a hex Ed25519 seed, or generates a key when seed is
// empty.
func monitorKey(seed string) (ed25519.PrivateKey, error) {
	if seed == "" {
		_, key, err := ed25519.GenerateKey(rand.Reader)
		return key, err
	}
	b, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("monitor.key: %w", err)
	}
	if len(b) != ed25519.SeedSize {
		return nil, fmt.Errorf("monitor.key: want %d bytes, got %d", ed25519.SeedSize, len(b))
	}
	return ed25519.NewKeyFromSeed(b), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
