// Package metrics exports execution events as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tliron/commonlog"

	"despair/pkg/isa"
)

const (
	namespace = "despair"

	// DefaultPath is where the exposition handler is mounted.
	DefaultPath = "/metrics"
)

var log = commonlog.GetLogger("despair.metrics")

// Observer implements dynarec.Observer on Prometheus collectors.
type Observer struct {
	Compiled     *prometheus.CounterVec
	Executed     *prometheus.CounterVec
	Instructions prometheus.Counter
	CodeBytes    prometheus.Counter
	BlockSize    prometheus.Histogram
	ServiceExits *prometheus.CounterVec
	Controls     *prometheus.CounterVec
	Running      prometheus.Gauge
	Faults       prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		Compiled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_compiled_total",
			Help:      "Basic blocks translated to native code.",
		}, []string{"core"}),
		Executed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_executed_total",
			Help:      "Native block entries from the dispatch loop.",
		}, []string{"core"}),
		Instructions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instructions_compiled_total",
			Help:      "Bytecode instructions translated to native code.",
		}),
		CodeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_bytes_total",
			Help:      "Bytes of native code emitted.",
		}),
		BlockSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_size_bytes",
			Help:      "Native size of compiled blocks.",
			Buckets:   prometheus.ExponentialBuckets(32, 2, 10),
		}),
		ServiceExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_exits_total",
			Help:      "Returns from native code to perform a host service.",
		}, []string{"family"}),
		Controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_transfers_total",
			Help:      "Interpreted jumps, calls and returns.",
		}, []string{"family"}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cores_running",
			Help:      "Cores currently dispatching.",
		}),
		Faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "core_faults_total",
			Help:      "Cores stopped by an error.",
		}),
	}
	for _, c := range []prometheus.Collector{
		o.Compiled, o.Executed, o.Instructions, o.CodeBytes, o.BlockSize,
		o.ServiceExits, o.Controls, o.Running, o.Faults,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func label(core int) string {
	return strconv.Itoa(core)
}

func (o *Observer) CoreStarted(core int) {
	o.Running.Inc()
}

func (o *Observer) CoreStopped(core int, err error) {
	o.Running.Dec()
	if err != nil {
		o.Faults.Inc()
	}
}

func (o *Observer) BlockCompiled(core int, insts, bytes int) {
	o.Compiled.WithLabelValues(label(core)).Inc()
	o.Instructions.Add(float64(insts))
	o.CodeBytes.Add(float64(bytes))
	o.BlockSize.Observe(float64(bytes))
}

func (o *Observer) BlockExecuted(core int) {
	o.Executed.WithLabelValues(label(core)).Inc()
}

func (o *Observer) ServiceExit(core int, f isa.Family) {
	o.ServiceExits.WithLabelValues(f.String()).Inc()
}

func (o *Observer) ControlInterpreted(core int, f isa.Family) {
	o.Controls.WithLabelValues(f.String()).Inc()
}

// Server exposes a registry over HTTP.
type Server struct {
	server   *http.Server
	listener net.Listener
}

// Listen binds addr and serves g at DefaultPath until Shutdown.
func Listen(addr string, g prometheus.Gatherer) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(DefaultPath, promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	s := &Server{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server: %s", err)
		}
	}()
	log.Infof("serving metrics on http://%s%s", ln.Addr(), DefaultPath)
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
