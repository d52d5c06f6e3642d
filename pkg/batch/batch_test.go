package batch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/como-project/como/pkg/comopkt"
)

func samplePackets(n int) []*comopkt.Packet {
	pkts := make([]*comopkt.Packet, n)
	for i := range pkts {
		pkts[i] = &comopkt.Packet{WireLen: 64}
	}
	return pkts
}

func TestNewSetsOneBitPerSubscriber(t *testing.T) {
	b := New(1, samplePackets(3), nil, 4)
	require.Equal(t, uint64(0b1111), b.RefMask())
	require.Equal(t, 3, b.Count())
	require.False(t, b.Reclaimable())
}

func TestAckClearsOnlyItsOwnBit(t *testing.T) {
	b := New(1, samplePackets(1), nil, 3)
	b.Ack(1)
	require.Equal(t, uint64(0b101), b.RefMask())
	require.False(t, b.Reclaimable())
}

// TestReclaimableOnceEveryBitAckedOrDropped grounds §8's batch
// ref-count property: a batch is reclaimable exactly once every
// subscriber has acked or been dropped, never before.
func TestReclaimableOnceEveryBitAckedOrDropped(t *testing.T) {
	b := New(1, samplePackets(1), nil, 3)
	require.False(t, b.Reclaimable())
	b.Ack(0)
	require.False(t, b.Reclaimable())
	b.Ack(1)
	require.False(t, b.Reclaimable())
	b.Drop(2)
	require.True(t, b.Reclaimable())
}

func TestDropDoesNotDoubleClearAckedBits(t *testing.T) {
	b := New(1, samplePackets(1), nil, 2)
	b.Ack(0)
	b.Drop(0) // dropping an already-acked client is a no-op on its bit
	require.Equal(t, uint64(0b10), b.RefMask())
}

func TestCountSumsBothPacketSlices(t *testing.T) {
	b := New(1, samplePackets(2), samplePackets(3), 1)
	require.Equal(t, 5, b.Count())
}
