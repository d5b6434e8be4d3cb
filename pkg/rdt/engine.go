package rdt

import (
	"context"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Endpoint is the public handle for one reliable connection, satisfied by
// both the GBN and SR engines (spec.md §4.4/§4.5 behind one interface).
type Endpoint interface {
	// Send enqueues b, slicing it into BufferSize chunks, and blocks
	// until every chunk is acknowledged or the connection is lost.
	Send(ctx context.Context, b []byte) error

	// Recv blocks until one chunk is deliverable and returns it. It
	// returns (nil, nil) on graceful close (end of stream).
	Recv(ctx context.Context) ([]byte, error)

	// Close runs the FIN handshake and moves the endpoint to CLOSED. It
	// does not close the underlying UDP socket.
	Close(ctx context.Context) error

	// Stats returns a snapshot of the connection's counters.
	Stats() Stats

	// ID is this endpoint's log/metric correlation id.
	ID() uuid.UUID

	// State reports the current connection lifecycle state.
	State() ConnState
}

// Listener accepts inbound connections for a bound variant+address.
type Listener interface {
	Accept(ctx context.Context) (Endpoint, error)
	Close() error
}

// Dial performs an active open: bind an ephemeral local UDP socket,
// perform the three-way-ish SYN/SYN|ACK handshake against raddr, and
// return an established Endpoint.
func Dial(ctx context.Context, variant Variant, raddrStr string, opts ...Option) (Endpoint, error) {
	cfg := defaultConfig(variant)
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "rdt: invalid option")
	}

	raddr, err := net.ResolveUDPAddr("udp", raddrStr)
	if err != nil {
		return nil, errors.Wrap(err, "rdt: resolve remote address")
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errors.Wrap(err, "rdt: bind local socket")
	}

	core := newConnCore(conn, false, cfg)
	core.raddr = raddr

	var ep Endpoint
	switch variant {
	case GoBackN:
		ep, err = newGBNEndpoint(ctx, core)
	case SelectiveRepeat:
		ep, err = newSREndpoint(ctx, core)
	default:
		err = errors.Errorf("rdt: unknown variant %d", variant)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ep, nil
}

// Listen binds laddr and returns a Listener for passive opens.
func Listen(variant Variant, laddrStr string, opts ...Option) (Listener, error) {
	cfg := defaultConfig(variant)
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "rdt: invalid option")
	}

	laddr, err := net.ResolveUDPAddr("udp", laddrStr)
	if err != nil {
		return nil, errors.Wrap(err, "rdt: resolve local address")
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(err, "rdt: bind local socket")
	}

	return &listener{conn: conn, variant: variant, cfg: cfg}, nil
}

type listener struct {
	conn    *net.UDPConn
	variant Variant
	cfg     config
}

func (l *listener) Accept(ctx context.Context) (Endpoint, error) {
	core := newConnCore(l.conn, true, l.cfg)
	core.state = StateListen

	switch l.variant {
	case GoBackN:
		return acceptGBN(ctx, core)
	case SelectiveRepeat:
		return acceptSR(ctx, core)
	default:
		return nil, errors.Errorf("rdt: unknown variant %d", l.variant)
	}
}

func (l *listener) Close() error {
	return l.conn.Close()
}
