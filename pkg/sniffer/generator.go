package sniffer

import (
	"math/rand"
	"time"

	"github.com/como-project/como/pkg/comopkt"
)

// Generator is a synthetic polled sniffer used in tests and examples: it
// emits Ethernet/IPv4/TCP-or-UDP packets at a configured rate so the
// capture pipeline can be exercised without real hardware, matching the
// scope note in §1 that real sniffer drivers are out of scope but the
// sniffer contract itself must be exercised.
type Generator struct {
	Rate       int // packets per Next call
	PacketSize int
	udpEvery   int // every Nth packet is UDP instead of TCP
	n          int
	dropped    int
	rng        *rand.Rand
	closed     bool
	ts         comopkt.Timestamp
	tick       time.Duration
}

// NewGenerator builds a Generator producing `rate` packets of `size`
// bytes per Next call, advancing its internal clock by `tick` each
// call, with every udpEvery-th packet addressed to UDP instead of TCP.
func NewGenerator(rate, size int, tick time.Duration, udpEvery int) *Generator {
	if udpEvery <= 0 {
		udpEvery = 0
	}
	return &Generator{Rate: rate, PacketSize: size, udpEvery: udpEvery, rng: rand.New(rand.NewSource(1)), tick: tick}
}

func (g *Generator) Start(src *Source) error {
	src.Mode = ModePoll
	src.Interval = g.tick
	src.FD = -1
	return nil
}

func (g *Generator) Stop() error { g.closed = true; return nil }

func (g *Generator) OutputMetadesc() comopkt.Metadesc {
	return comopkt.Metadesc{Templates: []comopkt.Template{
		{Link: comopkt.TopLink, L2: comopkt.LayerEth, L3: comopkt.LayerAny, L4: comopkt.LayerAny, TSRes: comopkt.TSResMicrosecond},
	}}
}

func (g *Generator) DroppedSinceLastCall() int {
	d := g.dropped
	g.dropped = 0
	return d
}

func (g *Generator) Next(out []comopkt.Packet) (int, error) {
	if g.closed {
		return -1, nil
	}
	n := g.Rate
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		g.ts += comopkt.NewTimestamp(0, int64(g.tick.Nanoseconds())/int64(max(n, 1)))
		buf := make([]byte, g.PacketSize)
		buf[12], buf[13] = 0x08, 0x00 // IPv4
		if g.PacketSize >= 35 {
			buf[14] = 0x45
			if g.udpEvery > 0 && g.n%g.udpEvery == 0 {
				buf[14+9] = 17
			} else {
				buf[14+9] = 6
			}
		}
		p := comopkt.Packet{TS: g.ts, WireLen: g.PacketSize, CapLen: len(buf), Top: comopkt.TopLink, Payload: buf}
		comopkt.ParseLayers(&p)
		out[i] = p
		g.n++
	}
	return n, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
