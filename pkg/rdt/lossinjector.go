package rdt

import (
	"math/rand"
	"net"
	"sync"
	"time"
)

// lossInjector probabilistically drops outbound packets before they reach
// the datagram primitive, and yields briefly after every call to avoid a
// tight retransmit loop spinning the CPU under adversarial drop (spec.md
// §4.2). The RNG is injectable so tests get deterministic, seeded loss.
type lossInjector struct {
	mu       sync.Mutex
	rng      *rand.Rand
	lossRate float64
	sleep    time.Duration

	dropped uint64
	sent    uint64

	// forceDrop lets tests script an exact, deterministic drop of one
	// sequence number's next transmission, for the literal scenarios in
	// spec.md §8 ("drop the first transmission of chunk 1") that must not
	// depend on a particular RNG stream to reproduce.
	forceDrop map[uint8]int
}

// newLossInjector builds an injector with its own PRNG seeded from seed.
// A zero seed is a valid, reproducible seed — callers that want real
// randomness should pass time.Now().UnixNano().
func newLossInjector(lossRate float64, seed int64) *lossInjector {
	return &lossInjector{
		rng:      rand.New(rand.NewSource(seed)),
		lossRate: lossRate,
		sleep:    20 * time.Millisecond,
	}
}

// maybeSend writes pkt to conn addressed at raddr unless the loss roll
// drops it. It always sleeps briefly afterward, matching the reference
// send loop's fixed per-send yield. The returned bool reports whether the
// packet was dropped, so the caller can report it to observers.
func (l *lossInjector) maybeSend(conn *net.UDPConn, raddr *net.UDPAddr, pkt []byte) (dropped bool, err error) {
	l.mu.Lock()
	drop := l.consumeForceDrop(pkt) || (l.lossRate > 0 && l.rng.Float64() < l.lossRate)
	if drop {
		l.dropped++
	} else {
		l.sent++
	}
	l.mu.Unlock()

	if !drop {
		_, err = conn.WriteToUDP(pkt, raddr)
	}
	time.Sleep(l.sleep)
	return drop, err
}

func (l *lossInjector) snapshot() (sent, dropped uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent, l.dropped
}

// dropNext schedules the next n transmissions whose header seq byte equals
// seq to be dropped, bypassing the random roll entirely. Caller must hold
// no lock; test-only.
func (l *lossInjector) dropNext(seq uint8, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.forceDrop == nil {
		l.forceDrop = make(map[uint8]int)
	}
	l.forceDrop[seq] = n
}

// consumeForceDrop reports whether pkt's seq byte has a scripted drop
// remaining, decrementing its count. Caller must hold l.mu.
func (l *lossInjector) consumeForceDrop(pkt []byte) bool {
	if len(l.forceDrop) == 0 || len(pkt) < 1 {
		return false
	}
	seq := pkt[0]
	remaining, ok := l.forceDrop[seq]
	if !ok || remaining <= 0 {
		return false
	}
	l.forceDrop[seq] = remaining - 1
	return true
}
