package ipcbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Message is one `{type: u16 LE, length: u16 LE, payload}` frame, with
// an optional single file descriptor carried via ancillary data on a
// Unix domain socket (§6 of the design).
type Message struct {
	Type    Type
	Payload []byte
	FD      *os.File // non-nil only for a handful of Storage handshake messages
}

func writeFrame(w io.Writer, m Message) error {
	if len(m.Payload) > MaxPayload {
		return fmt.Errorf("ipcbus: payload length %d exceeds max %d", len(m.Payload), MaxPayload)
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint16(hdr[0:2], uint16(m.Type))
	binary.LittleEndian.PutUint16(hdr[2:4], uint16(len(m.Payload)))

	if uc, ok := w.(*net.UnixConn); ok && m.FD != nil {
		rights := syscall.UnixRights(int(m.FD.Fd()))
		buf := append(hdr[:], m.Payload...)
		_, _, err := uc.WriteMsgUnix(buf, rights, nil)
		return err
	}

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(m.Payload) > 0 {
		if _, err := w.Write(m.Payload); err != nil {
			return err
		}
	}
	return nil
}

func readFrame(r io.Reader) (Message, error) {
	if uc, ok := r.(*net.UnixConn); ok {
		return readFrameUnix(uc)
	}
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	t := Type(binary.LittleEndian.Uint16(hdr[0:2]))
	n := binary.LittleEndian.Uint16(hdr[2:4])
	if n > MaxPayload {
		return Message{}, fmt.Errorf("ipcbus: declared length %d exceeds max %d", n, MaxPayload)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, err
		}
	}
	return Message{Type: t, Payload: payload}, nil
}

func readFrameUnix(uc *net.UnixConn) (Message, error) {
	buf := make([]byte, 4+MaxPayload)
	oob := make([]byte, syscall.CmsgSpace(4))
	n, oobn, _, _, err := uc.ReadMsgUnix(buf, oob)
	if err != nil {
		return Message{}, err
	}
	if n < 4 {
		return Message{}, fmt.Errorf("ipcbus: short frame header (%d bytes)", n)
	}
	t := Type(binary.LittleEndian.Uint16(buf[0:2]))
	length := int(binary.LittleEndian.Uint16(buf[2:4]))
	if 4+length > n {
		return Message{}, fmt.Errorf("ipcbus: truncated payload: want %d have %d", length, n-4)
	}
	payload := append([]byte(nil), buf[4:4+length]...)

	m := Message{Type: t, Payload: payload}
	if oobn > 0 {
		cmsgs, err := syscall.ParseSocketControlMessage(oob[:oobn])
		if err == nil && len(cmsgs) > 0 {
			fds, err := syscall.ParseUnixRights(&cmsgs[0])
			if err == nil && len(fds) > 0 {
				m.FD = os.NewFile(uintptr(fds[0]), "ipcbus-fd")
			}
		}
	}
	return m, nil
}
