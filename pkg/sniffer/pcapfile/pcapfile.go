// Package pcapfile implements a Sniffer that reads classic libpcap
// savefiles, used as the one concrete worked example of the sniffer
// contract (§4.4/§6) — real capture hardware/driver integration is out
// of this design's scope, named only by interface.
package pcapfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/como-project/como/pkg/comopkt"
	"github.com/como-project/como/pkg/sniffer"
)

const (
	magicLE = 0xa1b2c3d4
	magicBE = 0xd4c3b2a1
)

// Sniffer reads packets from one pcap savefile, non-blocking (a
// ModePoll source with FD -1) since file reads don't participate in a
// select-style readiness loop.
type Sniffer struct {
	f      *os.File
	order  binary.ByteOrder
	linkType uint32
	eof    bool
}

// New opens path for reading its global header immediately so Start can
// fail fast on a malformed or missing file.
func New(path string) (*Sniffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Sniffer{f: f}
	var hdr [24]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapfile: reading global header: %w", err)
	}
	switch binary.LittleEndian.Uint32(hdr[0:4]) {
	case magicLE:
		s.order = binary.LittleEndian
	case magicBE:
		s.order = binary.BigEndian
	default:
		f.Close()
		return nil, fmt.Errorf("pcapfile: %s is not a libpcap savefile", path)
	}
	s.linkType = s.order.Uint32(hdr[20:24])
	return s, nil
}

func (s *Sniffer) Start(src *sniffer.Source) error {
	src.Mode = sniffer.ModePoll
	src.FD = -1
	return nil
}

func (s *Sniffer) Stop() error { return s.f.Close() }

func (s *Sniffer) OutputMetadesc() comopkt.Metadesc {
	// The savefile's link type is read in New but not checked here; the
	// single template leaves L2/L3/L4 as any.
	return comopkt.Metadesc{Templates: []comopkt.Template{
		{Link: comopkt.TopLink, L2: comopkt.LayerAny, L3: comopkt.LayerAny, L4: comopkt.LayerAny, TSRes: comopkt.TSResMicrosecond},
	}}
}

func (s *Sniffer) DroppedSinceLastCall() int { return 0 }

// Next reads up to len(out) packet records from the savefile. It
// returns -1 once the file is exhausted, matching the EOF convention
// of the sniffer contract in §6.
func (s *Sniffer) Next(out []comopkt.Packet) (int, error) {
	if s.eof {
		return -1, nil
	}
	n := 0
	for n < len(out) {
		var rec [16]byte
		if _, err := io.ReadFull(s.f, rec[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				s.eof = true
				break
			}
			return n, fmt.Errorf("pcapfile: reading record header: %w", err)
		}
		sec := s.order.Uint32(rec[0:4])
		usec := s.order.Uint32(rec[4:8])
		inclLen := s.order.Uint32(rec[8:12])
		wireLen := s.order.Uint32(rec[12:16])

		buf := make([]byte, inclLen)
		if _, err := io.ReadFull(s.f, buf); err != nil {
			return n, fmt.Errorf("pcapfile: reading packet payload: %w", err)
		}

		p := comopkt.Packet{
			TS:      comopkt.NewTimestamp(int64(sec), int64(usec)*1000),
			WireLen: int(wireLen),
			CapLen:  int(inclLen),
			Top:     comopkt.TopLink,
			Payload: buf,
		}
		comopkt.ParseLayers(&p)
		out[n] = p
		n++
	}
	if n == 0 && s.eof {
		return -1, nil
	}
	return n, nil
}
