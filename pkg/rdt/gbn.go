package rdt

import (
	"context"

	"github.com/google/uuid"
)

// gbnEndpoint implements the cumulative-ACK, retransmit-all-from-base
// engine (C6), grounded on the reference gbn.py and on the teacher's
// Session send/receive loop shape.
type gbnEndpoint struct {
	*connCore
}

func newGBNEndpoint(ctx context.Context, core *connCore) (*gbnEndpoint, error) {
	e := &gbnEndpoint{connCore: core}
	if err := e.connect(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func acceptGBN(ctx context.Context, core *connCore) (*gbnEndpoint, error) {
	e := &gbnEndpoint{connCore: core}
	if err := e.accept(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *gbnEndpoint) ID() uuid.UUID   { return e.id }
func (e *gbnEndpoint) State() ConnState { return e.state }
func (e *gbnEndpoint) Stats() Stats {
	s := e.stats
	s.Window = e.cfg.window
	return s
}

// connect performs the active-open handshake (spec.md §4.3 step 1/3).
func (e *gbnEndpoint) connect(ctx context.Context) error {
	e.send.base = newSeqBase(e.loss.rng)
	e.send.next = e.send.base
	e.send.pos = e.send.base
	e.state = StateSynSent

	synPkt := Encode(e.send.base-1, 0, FlagSYN, nil)
	e.writePacket(synPkt)

	for attempt := 0; attempt < e.cfg.maxTimeout; attempt++ {
		raw, addr, err := e.readWithDeadline(ctx, e.cfg.timeout)
		if err != nil {
			if err == errTimeout {
				e.log.Warn("handshake SYN|ACK timeout, retrying")
				e.writePacket(synPkt)
				continue
			}
			return err
		}
		pkt, derr := Decode(raw)
		if derr != nil {
			e.metrics.ObserveMalformed()
			e.stats.MalformedDropped++
			continue
		}
		if pkt.IsProtocolViolation() {
			e.stats.MalformedDropped++
			continue
		}
		if pkt.IsSYN() && pkt.IsACK() && pkt.Ack == e.send.base {
			e.raddr = addr
			e.recv.base = pkt.Seq + 1
			e.recv.expect = e.recv.base
			e.state = StateEstablished
			e.events.publish(Event{Type: EventHandshakeComplete})
			e.log.Success("connected to %s", addr)
			return nil
		}
	}
	return wrapf(ErrConnectionLost, "gbn: handshake SYN retries exhausted")
}

// accept performs the passive-open handshake (spec.md §4.3 step 2).
func (e *gbnEndpoint) accept(ctx context.Context) error {
	for {
		raw, addr, err := e.readWithDeadline(ctx, 0)
		if err != nil {
			return err
		}
		pkt, derr := Decode(raw)
		if derr != nil {
			e.metrics.ObserveMalformed()
			e.stats.MalformedDropped++
			continue
		}
		if pkt.IsProtocolViolation() {
			e.stats.MalformedDropped++
			continue
		}
		if !pkt.IsSYN() {
			continue
		}
		e.raddr = addr
		e.recv.base = pkt.Seq + 1
		e.recv.expect = e.recv.base
		e.send.base = newSeqBase(e.loss.rng)
		e.send.next = e.send.base
		e.send.pos = e.send.base
		e.state = StateEstablished

		synAck := Encode(e.send.base, e.recv.expect, FlagSYN|FlagACK, nil)
		e.writePacket(synAck)
		e.events.publish(Event{Type: EventHandshakeComplete})
		e.log.Success("accepted connection from %s", addr)
		return nil
	}
}

// gbnUpdateBase applies the legacy wraparound-tolerant advance rule from
// spec.md §4.4: an ack numerically behind base is still accepted as an
// advance within a narrow tolerance band, otherwise base only ever moves
// forward. This heuristic is fragile by spec's own design notes (§9) but
// is preserved verbatim per the reference implementation rather than
// replaced with the principled inWindow check, per the Open Questions in
// spec.md §9 (behavior under adversarial reordering beyond the band is
// explicitly left undefined, so this module does not "fix" it).
func gbnUpdateBase(base, ack uint8) uint8 {
	bi, ai := int(base), int(ack)
	if ai < bi && (256+ai-bi) < 10 {
		return ack
	}
	if ai > bi {
		return ack
	}
	return base
}

// Send enqueues b as BufferSize chunks and blocks until s_base catches up
// to s_pos (all chunks acknowledged) or the connection is declared lost.
func (e *gbnEndpoint) Send(ctx context.Context, b []byte) error {
	if e.state != StateEstablished {
		return ErrClosed
	}
	chunks := splitChunks(b, e.cfg.bufferSize)
	if len(chunks) >= 128 {
		return ErrCapacityExceeded
	}
	for _, c := range chunks {
		e.send.put(c)
	}

	for e.send.base != e.send.pos {
		if int(seqDistance(e.send.base, e.send.next)) < e.cfg.window && e.send.next != e.send.pos {
			pkt := Encode(e.send.next, e.recv.expect, 0, e.send.data[e.send.next])
			e.writePacket(pkt)
			e.send.next++
			e.metrics.SetInflight(int(seqDistance(e.send.base, e.send.next)))
			continue
		}
		// gbnWait returning done=true means s_base has caught up to
		// s_next (everything transmitted so far is acked); the outer
		// loop re-checks s_base != s_pos to decide whether more
		// chunks remain to be opened into the window. done=false with
		// a nil error means the peer's FIN closed the connection
		// mid-send.
		done, err := e.gbnWait(ctx, false)
		if err != nil {
			return err
		}
		if !done && e.state != StateEstablished {
			return ErrClosed
		}
	}
	return nil
}

// gbnWait drives the shared ACK-wait loop (spec.md §4.4). When forRecv is
// true (a pure-Recv idle wait), a timeout returns immediately without
// triggering a go-back-N retransmit burst, matching the reference
// `_wait(recv=True)` short-circuit documented in SPEC_FULL.md's
// Supplemented Features.
func (e *gbnEndpoint) gbnWait(ctx context.Context, forRecv bool) (done bool, err error) {
	timeouts := 0
	for {
		if timeouts >= e.cfg.maxTimeout {
			e.state = StateClosed
			return false, ErrConnectionLost
		}
		raw, addr, rerr := e.readWithDeadline(ctx, e.cfg.timeout)
		if rerr != nil {
			if rerr == errTimeout {
				if forRecv {
					return true, nil
				}
				e.log.Warn("retransmit timeout, resending window [%d,%d)", e.send.base, e.send.next)
				for i := e.send.base; i != e.send.next; i++ {
					e.writePacket(Encode(i, e.recv.expect, 0, e.send.data[i]))
					e.metrics.ObserveRetransmit()
				}
				e.stats.Retransmits += uint64(seqDistance(e.send.base, e.send.next))
				timeouts++
				e.events.publish(Event{Type: EventRetransmit, Seq: e.send.base})
				continue
			}
			return false, rerr
		}
		if !e.fromPeer(addr) {
			continue
		}
		pkt, derr := Decode(raw)
		if derr != nil {
			e.metrics.ObserveMalformed()
			e.stats.MalformedDropped++
			continue
		}
		if pkt.IsProtocolViolation() {
			e.stats.MalformedDropped++
			e.metrics.ObserveMalformed()
			continue
		}

		switch {
		case pkt.IsSYN():
			synAck := Encode(e.send.next, e.recv.expect, FlagSYN|FlagACK, nil)
			e.writePacket(synAck)

		case pkt.IsACK():
			newBase := gbnUpdateBase(e.send.base, pkt.Ack)
			if newBase == e.send.base {
				e.stats.DuplicateACKs++
			}
			e.send.base = newBase
			e.metrics.SetInflight(int(seqDistance(e.send.base, e.send.next)))
			if e.send.base == e.send.next {
				return true, nil
			}

		case pkt.IsFIN():
			ackPkt := Encode(e.send.next-1, e.recv.expect, FlagACK|FlagFIN, nil)
			e.writePacket(ackPkt)
			e.state = StateClosed
			e.events.publish(Event{Type: EventClosed, Reason: "peer FIN"})
			return false, nil

		default:
			e.handleData(pkt)
		}
	}
}

// handleData applies an inbound data packet under GBN's strict
// in-order-only acceptance rule (spec.md §4.4 Receive).
func (e *gbnEndpoint) handleData(pkt Packet) {
	if pkt.Seq == e.recv.expect && pkt.ChecksumValid() {
		e.recv.store(pkt.Seq, pkt.Payload)
		e.recv.expect++
		ackPkt := Encode(e.send.next-1, e.recv.expect, FlagACK, nil)
		e.writePacket(ackPkt)
		return
	}
	// Out of order or corrupt: only the server side re-ACKs, matching
	// the reference implementation's asymmetric duplicate handling.
	if e.isServer {
		ackPkt := Encode(e.send.next-1, e.recv.expect, FlagACK, nil)
		e.writePacket(ackPkt)
		e.stats.DuplicateData++
	}
}

// Recv blocks until one chunk is deliverable, giving up with
// ErrConnectionLost after MAX_TIMEOUT empty wait cycles.
func (e *gbnEndpoint) Recv(ctx context.Context) ([]byte, error) {
	cycles := 0
	for !e.recv.hasPending() {
		if e.state != StateEstablished {
			return nil, nil
		}
		if cycles >= e.cfg.maxTimeout {
			e.state = StateClosed
			return nil, ErrConnectionLost
		}
		_, err := e.gbnWait(ctx, true)
		if err != nil {
			return nil, err
		}
		cycles++
	}
	payload, _ := e.recv.take()
	return payload, nil
}

// Close runs the initiator side of the graceful close (spec.md §4.3).
// Per the chosen resolution of spec.md §9's Open Question about MAX_TIMEOUT
// during close, this module always forces CLOSED once retries are
// exhausted rather than leaving state ambiguous; see DESIGN.md.
func (e *gbnEndpoint) Close(ctx context.Context) error {
	if e.state != StateEstablished {
		e.state = StateClosed
		return nil
	}
	e.state = StateFinWait
	finPkt := Encode(e.send.next, e.recv.expect, FlagFIN, nil)
	e.writePacket(finPkt)

	for attempt := 0; attempt < e.cfg.maxTimeout; attempt++ {
		raw, addr, err := e.readWithDeadline(ctx, e.cfg.timeout)
		if err != nil {
			if err == errTimeout {
				e.writePacket(finPkt)
				continue
			}
			break
		}
		if !e.fromPeer(addr) {
			continue
		}
		pkt, derr := Decode(raw)
		if derr != nil {
			continue
		}
		if pkt.IsProtocolViolation() {
			e.stats.MalformedDropped++
			continue
		}
		if pkt.IsFIN() && pkt.IsACK() && pkt.Ack == e.send.next {
			e.state = StateClosed
			e.events.publish(Event{Type: EventClosed, Reason: "FIN acked"})
			return nil
		}
	}
	e.state = StateClosed
	return nil
}

// splitChunks slices b into at-most-bufferSize pieces, matching the
// reference's `data[i:i+BUFFER_SIZE]` slicing. An empty b yields zero
// chunks for GBN (python's range(0, 0, BUFFER_SIZE) is empty), distinct
// from SR's explicit empty-chunk special case.
func splitChunks(b []byte, bufferSize int) [][]byte {
	if len(b) == 0 {
		return nil
	}
	var chunks [][]byte
	for i := 0; i < len(b); i += bufferSize {
		end := i + bufferSize
		if end > len(b) {
			end = len(b)
		}
		chunks = append(chunks, b[i:end])
	}
	return chunks
}
