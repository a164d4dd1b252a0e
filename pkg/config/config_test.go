package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"despair/pkg/codebuf"
	"despair/pkg/dynarec"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "despair.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	t.Setenv(ModeEnv, "")
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	opts, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Mode != dynarec.ModeJIT || opts.CodeIncrement != codebuf.DefaultIncrement {
		t.Errorf("options = %+v", opts)
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	t.Setenv(ModeEnv, "")
	path := write(t, `
mode = "interpreter"

[engine]
seed = 7

[journal]
path = "/var/lib/despair"

[monitor]
addr = "127.0.0.1:7400"
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.Mode = "interpreter"
	want.Engine.Seed = 7
	want.Journal.Path = "/var/lib/despair"
	want.Monitor.Addr = "127.0.0.1:7400"
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvironmentOverridesMode(t *testing.T) {
	t.Setenv(ModeEnv, "interpret")
	c, err := Load(write(t, `mode = "jit"`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	opts, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Mode != dynarec.ModeInterpret {
		t.Errorf("mode = %v, want interpreter", opts.Mode)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(ModeEnv, "")
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope.toml")},
		{"bad toml", write(t, `mode = `)},
		{"bad mode", write(t, `mode = "aot"`)},
		{"bad increment", write(t, "[engine]\ncode-increment = 0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.path); err == nil {
				t.Errorf("Load succeeded")
			}
		})
	}
}
