// Package monitor serves live core counters of a running process over QUIC.
//
// Each request is one bidirectional stream: the client writes a one-byte
// request kind and closes its side; the server answers with a single CBOR
// reply and closes the stream.
package monitor

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/quic-go/quic-go"
	"github.com/tliron/commonlog"

	"despair/pkg/dynarec"
)

// RequestKind selects what a stream asks for.
type RequestKind byte

const (
	RequestSnapshot RequestKind = 0
	RequestPing     RequestKind = 1
)

// maxReply bounds how much a client reads from one stream.
const maxReply = 1 << 20

var log = commonlog.GetLogger("despair.monitor")

// Source is what the monitor reports on. *dynarec.Process implements it.
type Source interface {
	Snapshot() []dynarec.Stats
	Heaps() int
}

// Report is a point-in-time view of a process.
type Report struct {
	Image  string          `cbor:"image" yaml:"image"`
	Mode   string          `cbor:"mode" yaml:"mode"`
	Uptime time.Duration   `cbor:"uptime" yaml:"uptime"`
	Heaps  int             `cbor:"heaps" yaml:"heaps"`
	Cores  []dynarec.Stats `cbor:"cores" yaml:"cores"`
}

type reply struct {
	Error  string  `cbor:"error,omitempty"`
	Report *Report `cbor:"report,omitempty"`
}

type Server struct {
	listener *quic.Listener
	source   Source
	image    string
	mode     string
	started  time.Time
	key      ed25519.PublicKey
}

// Listen binds a UDP address. The server identifies itself with key.
func Listen(addr string, key ed25519.PrivateKey, src Source, image, mode string) (*Server, error) {
	tlsConfig, err := serverTLS(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate TLS config: %w", err)
	}
	ln, err := quic.ListenAddr(addr, tlsConfig, &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
		MaxIdleTimeout:       30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return &Server{
		listener: ln,
		source:   src,
		image:    image,
		mode:     mode,
		started:  time.Now(),
		key:      key.Public().(ed25519.PublicKey),
	}, nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// PublicKey returns the key clients should pin.
func (s *Server) PublicKey() ed25519.PublicKey {
	return s.key
}

// Serve accepts connections until ctx is done or the server is closed.
func (s *Server) Serve(ctx context.Context) error {
	log.Infof("monitor listening on %s as %s", s.Addr(), Name(s.key))
	for {
		conn, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("accepting monitor connection: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn *quic.Conn) {
	log.Debugf("monitor client %s connected", conn.RemoteAddr())
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			log.Debugf("monitor client %s gone: %s", conn.RemoteAddr(), err)
			return
		}
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()
	stream.SetDeadline(time.Now().Add(10 * time.Second))

	var kind [1]byte
	if _, err := io.ReadFull(stream, kind[:]); err != nil {
		log.Warningf("reading monitor request: %s", err)
		return
	}
	var r reply
	switch RequestKind(kind[0]) {
	case RequestSnapshot:
		r.Report = s.report()
	case RequestPing:
	default:
		r.Error = fmt.Sprintf("unknown request kind %d", kind[0])
	}
	data, err := cbor.Marshal(r)
	if err != nil {
		log.Errorf("encoding monitor reply: %s", err)
		return
	}
	if _, err := stream.Write(data); err != nil {
		log.Warningf("writing monitor reply: %s", err)
	}
}

func (s *Server) report() *Report {
	return &Report{
		Image:  s.image,
		Mode:   s.mode,
		Uptime: time.Since(s.started),
		Heaps:  s.source.Heaps(),
		Cores:  s.source.Snapshot(),
	}
}

func (s *Server) Close() error {
	return s.listener.Close()
}

// Client queries one monitor server.
type Client struct {
	conn *quic.Conn
}

// Dial connects to addr. A nil pinned key accepts any well-formed monitor
// certificate.
func Dial(ctx context.Context, addr string, pinned ed25519.PublicKey) (*Client, error) {
	conn, err := quic.DialAddr(ctx, addr, clientTLS(pinned), &quic.Config{
		HandshakeIdleTimeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) request(ctx context.Context, kind RequestKind) (*reply, error) {
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		stream.SetDeadline(dl)
	}
	if _, err := stream.Write([]byte{byte(kind)}); err != nil {
		stream.CancelRead(0)
		return nil, fmt.Errorf("failed to write request: %w", err)
	}
	// Closing finishes our side; the reply still arrives.
	if err := stream.Close(); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(stream, maxReply))
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	var r reply
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode reply: %w", err)
	}
	if r.Error != "" {
		return nil, errors.New(r.Error)
	}
	return &r, nil
}

// Snapshot fetches the current report.
func (c *Client) Snapshot(ctx context.Context) (*Report, error) {
	r, err := c.request(ctx, RequestSnapshot)
	if err != nil {
		return nil, err
	}
	if r.Report == nil {
		return nil, errors.New("empty snapshot reply")
	}
	return r.Report, nil
}

// Ping measures one request round trip.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.request(ctx, RequestPing); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (c *Client) Close() error {
	return c.conn.CloseWithError(0, "client closed")
}
