package rdt

import (
	"context"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These scenarios mirror spec.md §8's literal, deterministic test list.
// Each drives two real connCore engines over loopback UDP sockets, since
// the handshake/ack state machines only make sense exercised end to end.

func fastTestOptions() []Option {
	return []Option{
		WithLossRate(0),
		WithLossSeed(1),
		WithTimeout(80 * time.Millisecond),
		WithBasicTimeout(15 * time.Millisecond),
		WithMaxTimeout(20),
	}
}

func newLoopbackCores(t *testing.T, v Variant, opts ...Option) (client, server *connCore) {
	t.Helper()
	clientConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	serverConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })

	cfg := defaultConfig(v)
	for _, opt := range opts {
		opt(&cfg)
	}

	client = newConnCore(clientConn, false, cfg)
	client.raddr = serverConn.LocalAddr().(*net.UDPAddr)
	server = newConnCore(serverConn, true, cfg)
	server.state = StateListen
	return client, server
}

// seqBaseForSeed replicates newSeqBase's draw against a freshly seeded
// rng, letting tests predict a handshake's initial sequence number
// without observing it, so a scripted drop can be queued before connect
// runs.
func seqBaseForSeed(seed int64) uint8 {
	return uint8(rand.New(rand.NewSource(seed)).Intn(256))
}

func TestScenarioLosslessTinyGBN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientCore, serverCore := newLoopbackCores(t, GoBackN, fastTestOptions()...)

	type result struct {
		ep  *gbnEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newGBNEndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptGBN(ctx, serverCore); serverCh <- result{ep, err} }()

	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, []byte("hello")) }()

	payload, err := sr.ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), payload)
	require.NoError(t, <-done)

	require.NoError(t, cr.ep.Close(ctx))
	end, err := sr.ep.Recv(ctx)
	require.NoError(t, err)
	require.Nil(t, end) // end-of-stream after FIN
}

func TestScenarioOneDropRetryGBN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := append(fastTestOptions(), WithBufferSize(1), WithWindow(3))
	clientCore, serverCore := newLoopbackCores(t, GoBackN, opts...)

	type result struct {
		ep  *gbnEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newGBNEndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptGBN(ctx, serverCore); serverCh <- result{ep, err} }()
	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	// Drop chunk 1's (the second chunk's) first transmission only.
	firstChunkSeq := cr.ep.send.next
	cr.ep.loss.dropNext(firstChunkSeq+1, 1)

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, []byte("abc")) }()

	var got []byte
	for len(got) < 3 {
		payload, err := sr.ep.Recv(ctx)
		require.NoError(t, err)
		got = append(got, payload...)
	}
	require.Equal(t, []byte("abc"), got)
	require.NoError(t, <-done)
	require.GreaterOrEqual(t, cr.ep.Stats().Retransmits, uint64(1))
}

func TestScenarioOutOfOrderSR(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := append(fastTestOptions(), WithBufferSize(1), WithWindow(3))
	clientCore, serverCore := newLoopbackCores(t, SelectiveRepeat, opts...)

	type result struct {
		ep  *srEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newSREndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptSR(ctx, serverCore); serverCh <- result{ep, err} }()
	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	// Drop chunk 0's first transmission only; chunks 1 and 2 arrive fine
	// and must be buffered, not delivered, until chunk 0's retransmit
	// fills the gap.
	firstChunkSeq := cr.ep.send.next
	cr.ep.loss.dropNext(firstChunkSeq, 1)

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, []byte("abc")) }()

	var got []byte
	for len(got) < 3 {
		payload, err := sr.ep.Recv(ctx)
		require.NoError(t, err)
		got = append(got, payload...)
	}
	require.Equal(t, []byte("abc"), got) // delivered in order despite reordering on the wire
	require.NoError(t, <-done)
}

func TestScenarioWraparoundGBN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := append(fastTestOptions(), WithBufferSize(1), WithWindow(4))
	clientCore, serverCore := newLoopbackCores(t, GoBackN, opts...)

	type result struct {
		ep  *gbnEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newGBNEndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptGBN(ctx, serverCore); serverCh <- result{ep, err} }()
	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	// 128 or more one-byte chunks in a single Send is rejected outright.
	huge := make([]byte, 128)
	require.ErrorIs(t, cr.ep.Send(ctx, huge), ErrCapacityExceeded)

	// 120 chunks, forced to start near the wrap boundary, must still
	// arrive in order.
	cr.ep.send.base, cr.ep.send.next, cr.ep.send.pos = 250, 250, 250
	sr.ep.recv.base, sr.ep.recv.expect = 250, 250

	payload := make([]byte, 120)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, payload) }()

	var got []byte
	for len(got) < len(payload) {
		chunk, err := sr.ep.Recv(ctx)
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	require.Equal(t, payload, got)
	require.NoError(t, <-done)
	// send.next must have wrapped through 255 back into low values.
	require.True(t, int(cr.ep.send.next) < 120)
}

func TestScenarioHandshakeLossGBN(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const seed = int64(7)
	opts := append(fastTestOptions(), WithLossSeed(seed))
	clientCore, serverCore := newLoopbackCores(t, GoBackN, opts...)

	// The handshake's SYN carries seq = initialSeqBase-1.
	expectedBase := seqBaseForSeed(seed)
	clientCore.loss.dropNext(expectedBase-1, 1)

	type result struct {
		ep  *gbnEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newGBNEndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptGBN(ctx, serverCore); serverCh <- result{ep, err} }()
	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	require.Equal(t, StateEstablished, cr.ep.State())
	require.Equal(t, StateEstablished, sr.ep.State())

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, []byte("ok")) }()
	payload, err := sr.ep.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), payload)
	require.NoError(t, <-done)
}

// TestScenarioSynFinProtocolViolationDropped exercises spec.md §7 item 3: a
// packet carrying both SYN and FIN is a protocol violation the engine must
// drop outright rather than act on as either flag, at every decode site —
// here during accept()'s wait for a handshake SYN.
func TestScenarioSynFinProtocolViolationDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clientCore, serverCore := newLoopbackCores(t, GoBackN, fastTestOptions()...)

	type result struct {
		ep  *gbnEndpoint
		err error
	}
	serverCh := make(chan result, 1)
	go func() { ep, err := acceptGBN(ctx, serverCore); serverCh <- result{ep, err} }()

	// A SYN+FIN packet must be silently dropped, not mistaken for a plain
	// SYN (accept's IsSYN() check would otherwise take it as one).
	violating := Encode(0, 0, FlagSYN|FlagFIN, nil)
	_, err := clientCore.conn.WriteToUDP(violating, serverCore.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	clientCh := make(chan result, 1)
	go func() { ep, err := newGBNEndpoint(ctx, clientCore); clientCh <- result{ep, err} }()

	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	require.Equal(t, StateEstablished, sr.ep.State())
	require.GreaterOrEqual(t, sr.ep.Stats().MalformedDropped, uint64(1))
}

func TestScenarioSRCongestionWindowGrowsAndHalves(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := append(fastTestOptions(), WithBufferSize(1), WithWindow(3))
	clientCore, serverCore := newLoopbackCores(t, SelectiveRepeat, opts...)

	type result struct {
		ep  *srEndpoint
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)
	go func() { ep, err := newSREndpoint(ctx, clientCore); clientCh <- result{ep, err} }()
	go func() { ep, err := acceptSR(ctx, serverCore); serverCh <- result{ep, err} }()
	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)

	startWindow := cr.ep.window

	done := make(chan error, 1)
	go func() { done <- cr.ep.Send(ctx, []byte("abc")) }()

	var got []byte
	for len(got) < 3 {
		payload, err := sr.ep.Recv(ctx)
		require.NoError(t, err)
		got = append(got, payload...)
	}
	require.NoError(t, <-done)
	require.GreaterOrEqual(t, cr.ep.window, startWindow) // additive increase, no loss here

	// Now force a retransmit pass directly and check the halving floor.
	cr.ep.timers.add(cr.ep.send.base, time.Now().Add(-2*cr.ep.cfg.timeout))
	cr.ep.send.data[cr.ep.send.base] = []byte("z")
	before := cr.ep.window
	any := cr.ep.retransmitExpired()
	require.True(t, any)
	want := before / 2
	if want < 2 {
		want = 2
	}
	require.Equal(t, want, cr.ep.window)
}
