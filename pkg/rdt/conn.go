package rdt

import (
	"context"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"

	"rdt-go/pkg/rdtlog"
	"rdt-go/pkg/rdtmetrics"
)

// ConnState is the connection lifecycle state from spec.md §3/§4.3.
type ConnState int

const (
	StateClosed ConnState = iota
	StateListen
	StateSynSent
	StateEstablished
	StateFinWait
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN_SENT"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait:
		return "FIN_WAIT"
	default:
		return "UNKNOWN"
	}
}

// connCore holds everything the GBN and SR engines share: the socket, the
// handshake/close state machine (C5), the 256-slot send/receive buffers
// (C3), the loss injector (C2), and the observability side-channels. Both
// engines embed it and add their own timer management (C4) and ACK policy.
type connCore struct {
	conn     *net.UDPConn
	raddr    *net.UDPAddr
	isServer bool
	state    ConnState
	cfg      config
	loss     *lossInjector

	send sendWindow
	recv *recvWindow

	stats  Stats
	events eventBus

	id      uuid.UUID
	log     *rdtlog.Logger
	metrics *rdtmetrics.Recorder
}

func newConnCore(conn *net.UDPConn, isServer bool, cfg config) *connCore {
	id := uuid.New()
	return &connCore{
		conn:     conn,
		isServer: isServer,
		state:    StateClosed,
		cfg:      cfg,
		loss:     newLossInjector(cfg.lossRate, cfg.lossSeed),
		recv:     newRecvWindow(),
		events:   cfg.eventBus,
		id:       id,
		log:      rdtlog.New(id.String()),
		metrics:  rdtmetrics.Default(),
	}
}

// writePacket passes a packet through the loss injector (C2) to the wire,
// reporting an EventPacketDropped for every packet the injector actually
// drops.
func (c *connCore) writePacket(pkt []byte) {
	wasDropped, err := c.loss.maybeSend(c.conn, c.raddr, pkt)
	if err != nil {
		c.log.Warn("write failed: %v", err)
	}
	if wasDropped {
		var seq uint8
		if len(pkt) > 0 {
			seq = pkt[0]
		}
		c.events.publish(Event{Type: EventPacketDropped, Seq: seq, Reason: "loss injector"})
	}
	sent, dropped := c.loss.snapshot()
	c.stats.PacketsSent = sent
	c.stats.PacketsDroppedByLoss = dropped
	c.metrics.ObserveSend(sent, dropped)
}

// sendRaw builds and transmits a packet with the given fields.
func (c *connCore) sendRaw(seq, ack uint8, flags byte, payload []byte) {
	c.writePacket(Encode(seq, ack, flags, payload))
}

// readWithDeadline reads one datagram, honoring ctx cancellation by
// slicing the wait into increments no longer than slice (200ms) so ctx.Err()
// is checked periodically even though net.UDPConn has no native context
// support. A timeout of zero or less means "no deadline": the call blocks
// until a datagram arrives or ctx is canceled, used by Accept's wait for
// the first SYN. Returns (nil, nil, ctx.Err()) on cancellation and
// (nil, nil, errTimeout) when timeout elapses first.
func (c *connCore) readWithDeadline(ctx context.Context, timeout time.Duration) ([]byte, *net.UDPAddr, error) {
	const slice = 200 * time.Millisecond
	buf := make([]byte, HeaderSize+c.cfg.bufferSize)
	unbounded := timeout <= 0
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		step := slice
		if !unbounded {
			if remaining := time.Until(deadline); remaining < step {
				step = remaining
			}
			if step <= 0 {
				return nil, nil, errTimeout
			}
		}
		c.conn.SetReadDeadline(time.Now().Add(step))
		n, addr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if unbounded || time.Now().Before(deadline) {
					continue
				}
				return nil, nil, errTimeout
			}
			return nil, nil, err
		}
		out := make([]byte, n)
		copy(out, buf[:n])
		return out, addr, nil
	}
}

// errTimeout is the internal sentinel meaning "no datagram before the
// deadline", distinct from ctx cancellation and from a hard socket error.
var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "rdt: read timeout" }
func (*timeoutError) Timeout() bool { return true }

// newSeqBase picks a random initial sequence number, as both reference
// handshakes do ("randomize init seq").
func newSeqBase(rng *rand.Rand) uint8 {
	return uint8(rng.Intn(256))
}

// fromPeer reports whether addr matches the connection's recorded peer,
// enforcing the "one peer address per endpoint" non-goal (spec.md §1):
// datagrams from any other source are silently ignored rather than
// multiplexed.
func (c *connCore) fromPeer(addr *net.UDPAddr) bool {
	if c.raddr == nil {
		return true
	}
	return addr.IP.Equal(c.raddr.IP) && addr.Port == c.raddr.Port
}
