package rdt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGbnUpdateBaseAdvancesForward(t *testing.T) {
	require.Equal(t, uint8(12), gbnUpdateBase(10, 12))
}

func TestGbnUpdateBaseIgnoresStaleDuplicate(t *testing.T) {
	require.Equal(t, uint8(12), gbnUpdateBase(12, 10))
}

func TestGbnUpdateBaseToleratesNarrowWraparound(t *testing.T) {
	// base=2, ack=250: (256+250-2) mod 256 = 248, outside the 10-wide
	// tolerance band, so base does not move.
	require.Equal(t, uint8(2), gbnUpdateBase(2, 250))
	// base=2, ack=254: (256+254-2) mod 256 = 8, inside the band.
	require.Equal(t, uint8(254), gbnUpdateBase(2, 254))
}

func TestSplitChunksBoundaries(t *testing.T) {
	require.Nil(t, splitChunks(nil, 4))

	chunks := splitChunks([]byte("abcdefghij"), 4)
	require.Equal(t, [][]byte{[]byte("abcd"), []byte("efgh"), []byte("ij")}, chunks)

	exact := splitChunks([]byte("abcd"), 4)
	require.Equal(t, [][]byte{[]byte("abcd")}, exact)
}
