// Package wiretest provides an in-process UDP terminal speaking the raw
// frame format, for tests of the layers above the codec.
package wiretest

import (
	"net"
	"sync"
	"testing"

	"github.com/quira/zkbridge/internal/wire"
)

// Reply is what the fake terminal sends back for one request. Raw, when
// set, is written verbatim instead of a built frame.
type Reply struct {
	Command uint32
	Payload []byte
	Raw     []byte
}

// Handler answers a decoded request. Returning nil sends nothing.
type Handler func(req *wire.Frame) *Reply

// Device is a fake terminal bound to a loopback UDP port.
type Device struct {
	SessionID uint32

	conn    net.PacketConn
	handler Handler

	mu       sync.Mutex
	requests []wire.Frame
}

// NewDevice starts a terminal that answers through handler and stops when
// the test ends.
func NewDevice(t testing.TB, sessionID uint32, handler Handler) *Device {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d := &Device{SessionID: sessionID, conn: conn, handler: handler}
	go d.serve()
	t.Cleanup(func() { conn.Close() })
	return d
}

// Host returns the loopback address the terminal listens on.
func (d *Device) Host() string {
	return d.conn.LocalAddr().(*net.UDPAddr).IP.String()
}

func (d *Device) Port() int {
	return d.conn.LocalAddr().(*net.UDPAddr).Port
}

// Requests returns the decoded requests received so far.
func (d *Device) Requests() []wire.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]wire.Frame(nil), d.requests...)
}

// Commands returns the command codes received so far.
func (d *Device) Commands() []uint32 {
	var cmds []uint32
	for _, r := range d.Requests() {
		cmds = append(cmds, r.Command)
	}
	return cmds
}

func (d *Device) serve() {
	buf := make([]byte, 65535)
	for {
		n, addr, err := d.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		req, ok := wire.Decode(append([]byte(nil), buf[:n]...))
		if !ok {
			continue
		}

		d.mu.Lock()
		d.requests = append(d.requests, *req)
		d.mu.Unlock()

		reply := d.handler(req)
		if reply == nil {
			continue
		}
		out := reply.Raw
		if out == nil {
			session := d.SessionID
			if req.Command != wire.CmdConnect {
				session = req.SessionID
			}
			out, err = wire.Build(reply.Command, session, req.ReplyID, reply.Payload)
			if err != nil {
				continue
			}
		}
		d.conn.WriteTo(out, addr)
	}
}
