// Package sniffer defines the uniform contract the Capture process uses
// to pull packets from heterogeneous sources (§4.4, §6), plus the
// readiness-driven runtime that multiplexes selectable and polled
// sources in Capture's single thread.
package sniffer

import (
	"time"

	"github.com/como-project/como/pkg/comopkt"
)

// Mode distinguishes a source that can be waited on with select-style
// readiness from one that must be polled on an interval.
type Mode int

const (
	ModeSelect Mode = iota
	ModePoll
)

// Source carries the state Capture needs to schedule a sniffer: its
// polling mode, poll interval (ModePoll only), and a readiness fd (-1
// for pure polled sources). FD is modeled as an int here since Go's
// runtime poller is accessed through *os.File/net.Conn in a live
// implementation; a sniffer backed by a real fd should wrap it so
// Capture's readiness loop can select on it directly.
type Source struct {
	Name     string
	Device   string
	Args     map[string]string
	Mode     Mode
	Interval time.Duration
	FD       int // -1 if not selectable
}

// Sniffer is the plug-in contract of §6, restated without the C
// calling convention: Start populates mode/interval/fd on the Source it
// is given (the metadesc comes from OutputMetadesc), Next fills up to
// len(out) packets, Stop releases resources.
type Sniffer interface {
	// Start initializes the sniffer against src, which the
	// implementation may mutate (Mode, Interval, FD) to describe its
	// own scheduling needs.
	Start(src *Source) error

	// Next fills up to len(out) packet descriptors and returns the
	// count actually filled: 0 means idle (no data ready right now),
	// a negative count means EOF, positive is a successful read.
	Next(out []comopkt.Packet) (int, error)

	// Stop releases any resources the sniffer is holding.
	Stop() error

	// OutputMetadesc reports what kinds of packets this sniffer can
	// emit, used for capture/module affinity negotiation (§4.3).
	OutputMetadesc() comopkt.Metadesc

	// DroppedSinceLastCall returns a best-effort count of packets the
	// sniffer dropped between the previous and current Next call, for
	// the pessimistic drop-attribution accounting of §4.4/§9.
	DroppedSinceLastCall() int
}

// Registered pairs a Sniffer with the Source state Capture schedules it
// by, and per-sniffer byte/packet counters (§4.5 step 1).
type Registered struct {
	ID      int
	Sniffer Sniffer
	Source  *Source

	Packets uint64
	Bytes   uint64
	Drops   uint64

	// LastTS is the most recent packet timestamp this sniffer has
	// produced. Capture derives no "now" watermark from it; its batch
	// close time comes from the wall clock.
	LastTS comopkt.Timestamp
}
