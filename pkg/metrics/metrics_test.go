package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"despair/pkg/clock"
	"despair/pkg/dynarec"
	"despair/pkg/image"
	"despair/pkg/isa"
)

var _ dynarec.Observer = (*Observer)(nil)

func newObserver(t *testing.T) (*Observer, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	o, err := New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, reg
}

func TestObserverCounters(t *testing.T) {
	o, _ := newObserver(t)

	o.CoreStarted(0)
	o.CoreStarted(1)
	o.BlockCompiled(0, 4, 100)
	o.BlockCompiled(0, 2, 60)
	o.BlockExecuted(0)
	o.BlockExecuted(0)
	o.BlockExecuted(1)
	o.ServiceExit(0, isa.FamOUT)
	o.ServiceExit(1, isa.FamOUT)
	o.ControlInterpreted(0, isa.FamJMP)
	o.CoreStopped(1, errors.New("fault"))

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"compiled core 0", o.Compiled.WithLabelValues("0"), 2},
		{"executed core 0", o.Executed.WithLabelValues("0"), 2},
		{"executed core 1", o.Executed.WithLabelValues("1"), 1},
		{"instructions", o.Instructions, 6},
		{"code bytes", o.CodeBytes, 160},
		{"OUT exits", o.ServiceExits.WithLabelValues("OUT"), 2},
		{"JMP transfers", o.Controls.WithLabelValues("JMP"), 1},
		{"running", o.Running, 1},
		{"faults", o.Faults, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(o.BlockSize); n != 1 {
		t.Errorf("block size histogram has %d series", n)
	}
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Errorf("registering twice succeeded")
	}
}

func TestObservesInterpretedRun(t *testing.T) {
	o, _ := newObserver(t)
	code := isa.NewBuilder().
		Emit("MOV_R_IMMI", 0, 1).
		Branch("JMP_ADDR", "end").
		Label("end").
		Emit("RET").
		MustBytes()
	img := &image.Image{
		Header: image.Header{StackSize: 64, DataSize: 8},
		Code:   code,
		Global: make([]byte, 8),
	}
	p, err := dynarec.NewProcess(img, dynarec.Options{
		Mode:     dynarec.ModeInterpret,
		Clock:    &clock.Fake{},
		Observer: o,
	})
	if err != nil {
		t.Fatalf("NewProcess: %v", err)
	}
	defer p.Close()
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(o.Controls.WithLabelValues("JMP")); got != 1 {
		t.Errorf("JMP transfers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.Controls.WithLabelValues("RET")); got != 1 {
		t.Errorf("RET transfers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(o.Running); got != 0 {
		t.Errorf("running = %v after the run", got)
	}
}

func TestServerExposesMetrics(t *testing.T) {
	o, reg := newObserver(t)
	o.BlockCompiled(3, 1, 40)

	s, err := Listen("127.0.0.1:0", reg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp, err := http.Get("http://" + s.Addr().String() + DefaultPath)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	if !strings.Contains(string(body), `despair_blocks_compiled_total{core="3"} 1`) {
		t.Errorf("exposition lacks the compiled counter:\n%s", body)
	}
}
