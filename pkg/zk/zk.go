package zk

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTimezone = "America/Lima"
	DefaultPort     = 4370
)

var (
	KeepAlivePeriod   = time.Second * 6
	DialTimeout       = 5 * time.Second
	ReadSocketTimeout = 5 * time.Second

	// ResyncQuietPeriod is how long the socket must stay silent before a
	// corrupted stream is considered realigned.
	ResyncQuietPeriod = 50 * time.Millisecond
)

// ZK is one TCP session with a ZKTeco terminal. It is not safe for concurrent
// use; command round trips are strictly sequential.
type ZK struct {
	link      *link
	sessionID int
	replyID   int
	host      string
	port      int
	pin       int
	loc       *time.Location
	machineID int
	disabled  bool
	capturing chan struct{}
	stopped   chan struct{}

	// Timeout bounds every wait for a device reply.
	Timeout time.Duration
	Log     Logger
}

// link owns one socket and the goroutine demultiplexing its packets.
type link struct {
	conn      net.Conn
	wmu       sync.Mutex
	responses chan reply
	events    chan *DataMsg
	done      chan struct{}
	err       error
	session   atomic.Int32
}

// reply is one command answer or the corruption error that replaced it.
type reply struct {
	msg *DataMsg
	err error
}

func (l *link) alive() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// machineID identifies the terminal in logs and attendance records
// host terminal IP
// port usually 4370
// pin comm key, 0 when the terminal has none
func NewZK(machineID int, host string, port int, pin int, timezone string) *ZK {
	if Log == nil {
		Log = defaultLogger()
	}
	return &ZK{
		machineID: machineID,
		host:      host,
		port:      port,
		pin:       pin,
		loc:       LoadLocation(timezone),
		sessionID: 0,
		replyID:   USHRT_MAX - 1,
		Timeout:   ReadSocketTimeout,
		Log:       Log,
	}
}

// Clone returns a new, unconnected session to the same terminal.
func (zk *ZK) Clone() *ZK {
	c := NewZK(zk.machineID, zk.host, zk.port, zk.pin, "")
	c.loc = zk.loc
	c.Timeout = zk.Timeout
	c.Log = zk.Log
	return c
}

func (zk *ZK) Host() string { return zk.host }

func (zk *ZK) Port() int { return zk.port }

func (zk *ZK) SessionID() int { return zk.sessionID }

func (zk *ZK) Location() *time.Location { return zk.loc }

func (zk *ZK) IsConnected() bool { return zk.link != nil && zk.link.alive() }

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed when the current connection ends. It is already closed
// when there is no connection.
func (zk *ZK) Done() <-chan struct{} {
	if zk.link == nil {
		return closedDone
	}
	return zk.link.done
}

func (zk *ZK) dataReceive(l *link) {
	defer close(l.done)

	for {
		msg, err := readPacket(l.conn)
		if err != nil && IsCorruption(err) {
			zk.Log.Errorf("[%d] corrupted packet, resyncing: %v", zk.machineID, err)
			if rerr := zk.resync(l); rerr != nil {
				l.err = rerr
				zk.Log.Errorf("[%d] resync failed: %v", zk.machineID, rerr)
				return
			}
			zk.deliver(l, reply{err: err})
			continue
		}
		if err != nil {
			l.err = err
			if !errors.Is(err, net.ErrClosed) {
				zk.Log.Errorf("[%d] receive failed: %v", zk.machineID, err)
			}
			return
		}

		zk.Log.Debugf("[%d] Response: code=%d session=%d reply=%d len=%d",
			zk.machineID, msg.Head.Code, msg.Head.SessionID, msg.Head.ReplyID, len(msg.Data))

		if msg.Head.Code == CMD_REG_EVENT {
			if err := zk.ackEvent(l); err != nil {
				zk.Log.Error(zk.machineID, " event ack failed: ", err)
			}
			select {
			case l.events <- msg:
			default:
				zk.Log.Error(zk.machineID, " event buffer full, dropping event")
			}
			continue
		}

		zk.deliver(l, reply{msg: msg})
	}
}

func (zk *ZK) deliver(l *link, r reply) {
	select {
	case l.responses <- r:
	default:
		zk.Log.Error(zk.machineID, " response buffer full, dropping reply")
	}
}

// resync discards everything the terminal sends until the socket has been
// quiet for ResyncQuietPeriod, so the next read starts on a packet boundary.
func (zk *ZK) resync(l *link) error {
	buf := make([]byte, 4096)
	discarded := 0
	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(ResyncQuietPeriod)); err != nil {
			return err
		}
		n, err := l.conn.Read(buf)
		discarded += n
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				zk.Log.Debugf("[%d] resynced after discarding %d bytes", zk.machineID, discarded)
				return l.conn.SetReadDeadline(time.Time{})
			}
			return err
		}
		if discarded > maxPacketSize {
			return fmt.Errorf("%w: stream never went quiet", ErrMalformedLength)
		}
	}
}

func readPacket(r io.Reader) (*DataMsg, error) {
	top := make([]byte, 8)
	if _, err := io.ReadFull(r, top); err != nil {
		return nil, err
	}

	length, err := testTCPTop(top)
	if err != nil {
		return nil, err
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: want %d bytes: %v", ErrMalformedLength, length, err)
		}
		return nil, err
	}

	header, err := unpack([]string{"H", "H", "H", "H"}, body[:8])
	if err != nil {
		return nil, err
	}

	return &DataMsg{
		Head: ZkHead{
			Code:      u16(header[0]),
			CheckSum:  u16(header[1]),
			SessionID: u16(header[2]),
			ReplyID:   u16(header[3]),
		},
		Data: body[8:],
	}, nil
}

func (zk *ZK) Connect() (err error) {
	if zk.link != nil {
		if zk.link.alive() {
			zk.Log.Error(zk.machineID, " Already connected")
			return nil
		}
		zk.Log.Info(zk.machineID, " Previous connection is dead, reconnecting")
		if zk.capturing != nil {
			zk.StopCapture()
		}
		zk.closeLink()
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(zk.host, fmt.Sprint(zk.port)), DialTimeout)
	if err != nil {
		return err
	}

	if tcpConnection, ok := conn.(*net.TCPConn); ok {
		if err = tcpConnection.SetKeepAlive(true); err != nil {
			conn.Close()
			return err
		}
		if err = tcpConnection.SetKeepAlivePeriod(KeepAlivePeriod); err != nil {
			conn.Close()
			return err
		}
	}

	l := &link{
		conn:      conn,
		responses: make(chan reply, 16),
		events:    make(chan *DataMsg, 20),
		done:      make(chan struct{}),
	}
	zk.link = l
	zk.sessionID = 0
	zk.replyID = USHRT_MAX - 1

	go zk.dataReceive(l)

	defer func() {
		if err != nil {
			zk.closeLink()
		}
	}()

	res, err := zk.sendCommand(CMD_CONNECT, nil)
	if err != nil {
		return err
	}

	zk.sessionID = res.CommandID
	l.session.Store(int32(zk.sessionID))

	switch res.Code {
	case CMD_ACK_OK:
	case CMD_ACK_UNAUTH:
		commandString, err := makeCommKey(zk.pin, zk.sessionID, 50)
		if err != nil {
			return err
		}
		res, err := zk.sendCommand(CMD_AUTH, commandString)
		if err != nil {
			return err
		}
		if !res.Status {
			return ErrUnauthorized
		}
	default:
		return fmt.Errorf("%w: connect answered %d", ErrResponse, res.Code)
	}

	zk.Log.Info(zk.machineID, " Connected with session_id ", zk.sessionID)
	return nil
}

func (zk *ZK) write(l *link, b []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()

	if err := l.conn.SetWriteDeadline(time.Now().Add(zk.Timeout)); err != nil {
		return err
	}
	n, err := l.conn.Write(b)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("failed to write command")
	}
	return nil
}

func (zk *ZK) ackEvent(l *link) error {
	header, err := createHeader(CMD_ACK_OK, nil, int(l.session.Load()), USHRT_MAX-1)
	if err != nil {
		return err
	}
	top, err := createTCPTop(header)
	if err != nil {
		return err
	}
	return zk.write(l, top)
}

// drain discards replies left over from an earlier exchange.
func (l *link) drain() {
	for {
		select {
		case <-l.responses:
		default:
			return
		}
	}
}

// receive waits for the next command reply.
func (zk *ZK) receive() (*DataMsg, error) {
	l := zk.link
	if l == nil {
		return nil, ErrNotConnected
	}

	timer := time.NewTimer(zk.Timeout)
	defer timer.Stop()

	select {
	case r := <-l.responses:
		return r.msg, r.err
	case <-l.done:
		// the reader may have queued a reply before failing
		select {
		case r := <-l.responses:
			return r.msg, r.err
		default:
		}
		if l.err != nil {
			return nil, l.err
		}
		return nil, ErrNotConnected
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func (zk *ZK) sendCommand(command int, commandString []byte) (*Response, error) {
	l := zk.link
	if l == nil {
		return nil, ErrNotConnected
	}

	if commandString == nil {
		commandString = make([]byte, 0)
	}

	header, err := createHeader(command, commandString, zk.sessionID, zk.replyID)
	if err != nil {
		return nil, err
	}

	top, err := createTCPTop(header)
	if err != nil {
		return nil, err
	}

	l.drain()
	zk.Log.Debugf("[%d] DataSend: CMD:%d SessionID:%d ReplyID:%d len=%d", zk.machineID, command, zk.sessionID, zk.replyID, len(commandString))

	if err := zk.write(l, top); err != nil {
		return nil, err
	}

	msg, err := zk.receive()
	if err != nil {
		return nil, fmt.Errorf("command %d: %w", command, err)
	}

	zk.replyID = msg.Head.ReplyID

	res := &Response{
		Code:      msg.Head.Code,
		CommandID: msg.Head.SessionID,
		Data:      msg.Data,
		ReplyID:   msg.Head.ReplyID,
	}
	switch msg.Head.Code {
	case CMD_ACK_OK, CMD_PREPARE_DATA, CMD_DATA:
		res.Status = true
	}
	return res, nil
}

func (zk *ZK) closeLink() {
	l := zk.link
	if l == nil {
		return
	}
	zk.link = nil
	l.conn.Close()
	<-l.done
}

// Disconnect disconnects out of the machine fingerprint
func (zk *ZK) Disconnect() error {
	if zk.link == nil {
		return errors.New("already disconnected")
	}

	if zk.capturing != nil {
		zk.StopCapture()
	}

	_, err := zk.sendCommand(CMD_EXIT, nil)
	zk.closeLink()
	return err
}

// EnableDevice enables the connected device
func (zk *ZK) EnableDevice() error {
	res, err := zk.sendCommand(CMD_ENABLEDEVICE, nil)
	if err != nil {
		return err
	}

	if !res.Status {
		return errors.New("failed to enable device")
	}

	zk.disabled = false
	return nil
}

// DisableDevice disable the connected device
func (zk *ZK) DisableDevice() error {
	res, err := zk.sendCommand(CMD_DISABLEDEVICE, nil)
	if err != nil {
		return err
	}

	if !res.Status {
		return errors.New("failed to disable device")
	}

	zk.disabled = true
	return nil
}

// RefreshData asks the terminal to reload its user tables after a write.
func (zk *ZK) RefreshData() error {
	res, err := zk.sendCommand(CMD_REFRESHDATA, nil)
	if err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("%w: refresh answered %d", ErrResponse, res.Code)
	}
	return nil
}
