package rdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSeqDistanceWraps(t *testing.T) {
	require.Equal(t, uint8(1), seqDistance(255, 0))
	require.Equal(t, uint8(0), seqDistance(10, 10))
	require.Equal(t, uint8(250), seqDistance(10, 4))
}

func TestInWindow(t *testing.T) {
	require.True(t, inWindow(10, 10, 3))
	require.True(t, inWindow(12, 10, 3))
	require.False(t, inWindow(13, 10, 3))
	require.True(t, inWindow(1, 255, 3)) // wraps past 255
}

func TestSendWindowPut(t *testing.T) {
	var w sendWindow
	w.base, w.next, w.pos = 250, 250, 250
	w.put([]byte("a"))
	w.put([]byte("b"))
	require.Equal(t, uint8(252), w.pos)
	require.Equal(t, uint8(2), w.slotsPending())
	require.Equal(t, []byte("a"), w.data[250])
	require.Equal(t, []byte("b"), w.data[251])
}

func TestRecvWindowStoreAndTake(t *testing.T) {
	w := newRecvWindow()
	w.base, w.expect = 5, 5

	require.True(t, w.store(5, []byte("x")))
	require.False(t, w.store(5, []byte("dup"))) // already filled
	w.advanceExpect()
	require.Equal(t, uint8(6), w.expect)

	require.True(t, w.hasPending())
	payload, ok := w.take()
	require.True(t, ok)
	require.Equal(t, []byte("x"), payload)
	require.False(t, w.hasPending())
}

func TestRecvWindowOutOfOrderBuffersUntilGapFills(t *testing.T) {
	w := newRecvWindow()
	w.base, w.expect = 0, 0

	w.store(1, []byte("1"))
	w.store(2, []byte("2"))
	w.advanceExpect()
	require.Equal(t, uint8(0), w.expect) // gap at 0 still blocks delivery
	require.False(t, w.hasPending())

	w.store(0, []byte("0"))
	w.advanceExpect()
	require.Equal(t, uint8(3), w.expect)

	for i, want := range []string{"0", "1", "2"} {
		payload, ok := w.take()
		require.True(t, ok, "chunk %d", i)
		require.Equal(t, []byte(want), payload)
	}
	require.False(t, w.hasPending())
}

func TestRecvWindowAdvanceExpectAcrossWraparound(t *testing.T) {
	w := newRecvWindow()
	w.base, w.expect = 254, 254
	w.store(254, []byte("a"))
	w.store(255, []byte("b"))
	w.store(0, []byte("c"))
	w.advanceExpect()
	require.Equal(t, uint8(1), w.expect)
}
