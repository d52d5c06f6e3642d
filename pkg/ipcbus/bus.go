package ipcbus

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/como-project/como/pkg/comoerr"
)

// Handler processes one received message. It runs on the Bus's single
// dispatch goroutine per connection, preserving the FIFO-per-direction
// ordering guarantee (§5): handlers must not block on another peer's
// reply without going through WaitReply.
type Handler func(peer *Conn, m Message)

// Bus is one process's IPC endpoint: it can listen (bind a socket for
// its own Class) and/or dial peers by address, dispatching inbound
// messages through a handler table registered with Register.
type Bus struct {
	Class  Class
	logger *logrus.Logger

	mu       sync.RWMutex
	handlers map[Type]Handler
	conns    map[string]*Conn

	listener net.Listener
}

// New creates a Bus for the given peer class.
func New(class Class, logger *logrus.Logger) *Bus {
	return &Bus{
		Class:    class,
		logger:   logger,
		handlers: make(map[Type]Handler),
		conns:    make(map[string]*Conn),
	}
}

// Register installs the handler invoked from the event loop for
// messages of type t, as described in §4.2.
func (b *Bus) Register(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = h
}

// Listen binds network (unix|tcp) at address and accepts peers in the
// background until ctx is done.
func (b *Bus) Listen(ctx context.Context, network, address string) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return comoerr.Wrap(comoerr.CodeIPCClosed, string(b.Class), "listen", err, comoerr.SeverityFatal)
	}
	b.listener = ln
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go b.acceptLoop(ctx, ln)
	return nil
}

func (b *Bus) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.WithError(err).Warn("ipcbus: accept failed")
			continue
		}
		c := newConn(nc, b)
		go b.serve(ctx, c)
	}
}

// Connect dials a peer and performs the HELLO handshake identifying
// this Bus's class, per §6. The returned Conn is NOT dispatched through
// Register automatically — a client peer drives its own event loop via
// Receive/WaitReply, matching "handle(fd) invoked from the event loop
// on a ready socket" in §4.2 rather than running a second reader
// goroutine behind the caller's back. Use Bus.Serve to opt a Conn into
// handler-table dispatch instead (what Listen's accepted peers get).
func (b *Bus) Connect(ctx context.Context, network, address string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, comoerr.Wrap(comoerr.CodeIPCClosed, string(b.Class), "connect", err, comoerr.SeverityTransient)
	}
	c := newConn(nc, b)
	if err := c.send(Message{Type: TypeHello, Payload: []byte(b.Class)}); err != nil {
		nc.Close()
		return nil, err
	}
	b.mu.Lock()
	b.conns[address] = c
	b.mu.Unlock()
	return c, nil
}

// Serve opts an existing Conn into handler-table dispatch, running
// until the connection closes or ctx is done. Used by peers (e.g.
// Capture's capture-client subscribers) that want push delivery of
// unsolicited messages like NEW_BATCH rather than polling Receive.
func (b *Bus) Serve(ctx context.Context, c *Conn) { b.serve(ctx, c) }

func (b *Bus) serve(ctx context.Context, c *Conn) {
	defer c.Close()
	for {
		m, err := readFrame(c.nc)
		if err != nil {
			if err != io.EOF {
				b.logger.WithError(err).Debug("ipcbus: connection closed")
			}
			return
		}
		b.mu.RLock()
		h, ok := b.handlers[m.Type]
		b.mu.RUnlock()

		if ok {
			h(c, m)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Conn is one peer connection, supporting the nonblocking Send,
// SendBlocking, Receive and WaitReply operations of §4.2.
type Conn struct {
	nc  net.Conn
	bus *Bus
	mu  sync.Mutex
}

func newConn(nc net.Conn, bus *Bus) *Conn { return &Conn{nc: nc, bus: bus} }

func (c *Conn) Close() error { return c.nc.Close() }

// Send is the nonblocking operation of §4.2: it writes the frame and
// surfaces a write-deadline failure as a transient error the caller
// should treat as EAGAIN (retry the send at the next loop tick).
func (c *Conn) Send(t Type, payload []byte) error {
	c.nc.SetWriteDeadline(time.Now().Add(10 * time.Millisecond))
	defer c.nc.SetWriteDeadline(time.Time{})
	if err := c.send(Message{Type: t, Payload: payload}); err != nil {
		return comoerr.Wrap(comoerr.CodeIPCClosed, "ipcbus", "send", err, comoerr.SeverityTransient)
	}
	return nil
}

func (c *Conn) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeFrame(c.nc, m)
}

// SendBlocking retries until the frame is sent or the peer is gone.
func (c *Conn) SendBlocking(ctx context.Context, t Type, payload []byte) error {
	for {
		c.nc.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		err := c.send(Message{Type: t, Payload: payload})
		c.nc.SetWriteDeadline(time.Time{})
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return comoerr.Wrap(comoerr.CodeIPCTimeout, "ipcbus", "send_blocking", ctx.Err(), comoerr.SeverityTransient)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Receive reads the next frame not otherwise consumed by WaitReply,
// returning a timeout error if none arrives within timeout.
func (c *Conn) Receive(timeout time.Duration) (Message, error) {
	c.nc.SetReadDeadline(time.Now().Add(timeout))
	defer c.nc.SetReadDeadline(time.Time{})
	m, err := readFrame(c.nc)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Message{}, comoerr.Wrap(comoerr.CodeIPCTimeout, "ipcbus", "receive", err, comoerr.SeverityTransient)
		}
		return Message{}, comoerr.Wrap(comoerr.CodeIPCClosed, "ipcbus", "receive", err, comoerr.SeverityProtocol)
	}
	return m, nil
}

// WaitReply sends a request and synchronously waits for the next frame
// on this connection — the request/reply pairing used for control
// operations (§4.2). It reads the reply directly off the connection, so
// it must not be used on a Conn that is also handed to Bus.Serve (the
// two would race for the same reads); pair it with plain Receive calls
// instead, as a client peer driving its own event loop would.
func (c *Conn) WaitReply(ctx context.Context, reqType Type, payload []byte) (Message, error) {
	if err := c.send(Message{Type: reqType, Payload: payload}); err != nil {
		return Message{}, fmt.Errorf("ipcbus: wait_reply send: %w", err)
	}
	type result struct {
		m   Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := readFrame(c.nc)
		done <- result{m, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			return Message{}, comoerr.Wrap(comoerr.CodeIPCClosed, "ipcbus", "wait_reply", r.err, comoerr.SeverityProtocol)
		}
		return r.m, nil
	case <-ctx.Done():
		c.nc.SetReadDeadline(time.Now())
		return Message{}, comoerr.Wrap(comoerr.CodeIPCTimeout, "ipcbus", "wait_reply", ctx.Err(), comoerr.SeverityTransient)
	}
}
