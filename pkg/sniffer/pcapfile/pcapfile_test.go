package pcapfile

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/como-project/como/pkg/comopkt"
)

// writePcap writes a minimal libpcap savefile with the given per-packet
// payloads, one second apart starting at unix time 1000.
func writePcap(t *testing.T, payloads [][]byte) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.pcap")
	if err != nil {
		t.Fatalf("tempfile: %v", err)
	}
	defer f.Close()

	var global [24]byte
	binary.LittleEndian.PutUint32(global[0:4], magicLE)
	binary.LittleEndian.PutUint16(global[4:6], 2) // version major
	binary.LittleEndian.PutUint16(global[6:8], 4) // version minor
	binary.LittleEndian.PutUint32(global[16:20], 65535)
	binary.LittleEndian.PutUint32(global[20:24], 1) // DLT_EN10MB
	if _, err := f.Write(global[:]); err != nil {
		t.Fatalf("write global header: %v", err)
	}

	for i, payload := range payloads {
		var rec [16]byte
		binary.LittleEndian.PutUint32(rec[0:4], uint32(1000+i))
		binary.LittleEndian.PutUint32(rec[4:8], 0)
		binary.LittleEndian.PutUint32(rec[8:12], uint32(len(payload)))
		binary.LittleEndian.PutUint32(rec[12:16], uint32(len(payload)))
		if _, err := f.Write(rec[:]); err != nil {
			t.Fatalf("write record header: %v", err)
		}
		if _, err := f.Write(payload); err != nil {
			t.Fatalf("write payload: %v", err)
		}
	}
	return f.Name()
}

func TestPcapfileReadsAllPacketsThenEOF(t *testing.T) {
	payloads := make([][]byte, 10)
	for i := range payloads {
		payloads[i] = make([]byte, 800)
	}
	path := writePcap(t, payloads)

	s, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer s.Stop()

	out := make([]comopkt.Packet, 4)
	total := 0
	totalBytes := 0
	for {
		n, err := s.Next(out)
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if n < 0 {
			break
		}
		for i := 0; i < n; i++ {
			totalBytes += out[i].WireLen
		}
		total += n
	}
	if total != len(payloads) {
		t.Fatalf("expected %d packets, got %d", len(payloads), total)
	}
	if totalBytes != 8000 {
		t.Fatalf("expected 8000 total bytes, got %d", totalBytes)
	}

	n, err := s.Next(out)
	if err != nil {
		t.Fatalf("next after eof: %v", err)
	}
	if n != -1 {
		t.Fatalf("expected -1 (EOF) after savefile exhausted, got %d", n)
	}
}
