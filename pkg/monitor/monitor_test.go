package monitor

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"despair/pkg/dynarec"
)

var _ Source = (*dynarec.Process)(nil)

type fakeSource struct {
	stats []dynarec.Stats
	heaps int
}

func (f *fakeSource) Snapshot() []dynarec.Stats { return f.stats }
func (f *fakeSource) Heaps() int                { return f.heaps }

func startServer(t *testing.T, src Source) *Server {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	s, err := Listen("127.0.0.1:0", key, src, "imgA", "jit")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		s.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return s
}

func dial(t *testing.T, s *Server, pinned ed25519.PublicKey) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, s.Addr(), pinned)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSnapshotOverLoopback(t *testing.T) {
	src := &fakeSource{
		stats: []dynarec.Stats{
			{Core: 0, Compiled: 2, Executed: 40, Hits: 38, Running: true},
			{Core: 1, Interpreted: 17},
		},
		heaps: 3,
	}
	s := startServer(t, src)
	c := dial(t, s, s.PublicKey())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := c.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if r.Image != "imgA" || r.Mode != "jit" || r.Heaps != 3 {
		t.Errorf("report header = %q %q %d", r.Image, r.Mode, r.Heaps)
	}
	if r.Uptime <= 0 {
		t.Errorf("uptime = %s", r.Uptime)
	}
	if diff := cmp.Diff(src.stats, r.Cores); diff != "" {
		t.Errorf("cores mismatch (-want +got):\n%s", diff)
	}

	// Streams are independent: a second request on the same connection works.
	if _, err := c.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestUnknownRequest(t *testing.T) {
	s := startServer(t, &fakeSource{})
	c := dial(t, s, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.request(ctx, RequestKind(9))
	if err == nil || !strings.Contains(err.Error(), "unknown request kind 9") {
		t.Errorf("request = %v, want an unknown-kind error", err)
	}
}

func TestPinnedKeyMismatch(t *testing.T) {
	s := startServer(t, &fakeSource{})
	other, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if c, err := Dial(ctx, s.Addr(), other); err == nil {
		c.Close()
		t.Fatal("Dial accepted a server with the wrong key")
	}
}

func TestCertificateName(t *testing.T) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cert, err := generateCertificate(key)
	if err != nil {
		t.Fatalf("generateCertificate: %v", err)
	}
	pub := key.Public().(ed25519.PublicKey)
	if err := verifyPeer(pub)(cert.Certificate, nil); err != nil {
		t.Errorf("own certificate rejected: %v", err)
	}
	if !strings.HasPrefix(Name(pub), "m") {
		t.Errorf("Name = %q", Name(pub))
	}
}
