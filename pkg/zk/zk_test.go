package zk

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testReply struct {
	code int
	data []byte
	raw  []byte
}

type fakeTerminal struct {
	ln      net.Listener
	session int
	handler func(cmd int, payload []byte) []testReply

	mu       sync.Mutex
	received []int
}

func newFakeTerminal(t *testing.T, handler func(cmd int, payload []byte) []testReply) *fakeTerminal {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeTerminal{ln: ln, session: 0x55, handler: handler}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeTerminal) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeTerminal) commands() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.received...)
}

func (f *fakeTerminal) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeTerminal) handle(conn net.Conn) {
	defer conn.Close()
	for {
		top := make([]byte, 8)
		if _, err := io.ReadFull(conn, top); err != nil {
			return
		}
		body := make([]byte, binary.LittleEndian.Uint32(top[4:8]))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		cmd := int(binary.LittleEndian.Uint16(body[0:2]))
		reply := int(binary.LittleEndian.Uint16(body[6:8]))

		f.mu.Lock()
		f.received = append(f.received, cmd)
		f.mu.Unlock()

		for _, r := range f.handler(cmd, body[8:]) {
			out := r.raw
			if out == nil {
				out = framePacket(r.code, f.session, reply, r.data)
			}
			if _, err := conn.Write(out); err != nil {
				return
			}
		}
	}
}

func framePacket(code, session, reply int, data []byte) []byte {
	body := make([]byte, 8, 8+len(data))
	binary.LittleEndian.PutUint16(body[0:], uint16(code))
	binary.LittleEndian.PutUint16(body[4:], uint16(session))
	binary.LittleEndian.PutUint16(body[6:], uint16(reply))
	body = append(body, data...)
	binary.LittleEndian.PutUint16(body[2:], uint16(createCheckSum(body)))

	top := make([]byte, 8)
	binary.LittleEndian.PutUint16(top[0:], MACHINE_PREPARE_DATA_1)
	binary.LittleEndian.PutUint16(top[2:], MACHINE_PREPARE_DATA_2)
	binary.LittleEndian.PutUint32(top[4:], uint32(len(body)))
	return append(top, body...)
}

func sizesBlock(users, fingers, records int) []byte {
	b := make([]byte, 80)
	binary.LittleEndian.PutUint32(b[16:], uint32(users))
	binary.LittleEndian.PutUint32(b[24:], uint32(fingers))
	binary.LittleEndian.PutUint32(b[32:], uint32(records))
	return b
}

func userTable(t *testing.T, users ...User) []byte {
	t.Helper()
	var records []byte
	for _, u := range users {
		rec, err := makeUserCommand(u)
		require.NoError(t, err)
		records = append(records, rec...)
	}
	table := make([]byte, 4)
	binary.LittleEndian.PutUint32(table, uint32(len(records)))
	return append(table, records...)
}

// baseHandler answers the session bookkeeping commands and delegates the rest.
func baseHandler(extra func(cmd int, payload []byte) []testReply) func(int, []byte) []testReply {
	return func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_CONNECT, CMD_EXIT, CMD_FREE_DATA, CMD_REFRESHDATA, CMD_ENABLEDEVICE, CMD_DISABLEDEVICE:
			return []testReply{{code: CMD_ACK_OK}}
		case CMD_ACK_OK:
			return nil
		}
		if extra != nil {
			if replies := extra(cmd, payload); replies != nil {
				return replies
			}
		}
		return []testReply{{code: CMD_ACK_ERROR}}
	}
}

func connectTo(t *testing.T, f *fakeTerminal) *ZK {
	t.Helper()
	z := NewZK(1, "127.0.0.1", f.port(), 0, "UTC")
	z.Log = NewLogger(zerolog.Nop())
	z.Timeout = 2 * time.Second
	require.NoError(t, z.Connect())
	t.Cleanup(func() {
		if z.IsConnected() {
			z.Disconnect()
		}
	})
	return z
}

func TestConnectTakesSessionFromReply(t *testing.T) {
	f := newFakeTerminal(t, baseHandler(nil))
	z := connectTo(t, f)

	assert.Equal(t, 0x55, z.SessionID())
	assert.True(t, z.IsConnected())

	require.NoError(t, z.Disconnect())
	assert.False(t, z.IsConnected())
	assert.Error(t, z.Disconnect())
}

func TestConnectWithCommKey(t *testing.T) {
	var authorized atomic.Bool
	f := newFakeTerminal(t, func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_CONNECT:
			return []testReply{{code: CMD_ACK_UNAUTH}}
		case CMD_AUTH:
			authorized.Store(len(payload) == 4)
			return []testReply{{code: CMD_ACK_ERROR}}
		}
		return []testReply{{code: CMD_ACK_OK}}
	})

	z := NewZK(1, "127.0.0.1", f.port(), 1234, "UTC")
	z.Log = NewLogger(zerolog.Nop())
	z.Timeout = time.Second

	err := z.Connect()
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, z.IsConnected())
	assert.True(t, authorized.Load())
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	z := NewZK(1, "127.0.0.1", port, 0, "UTC")
	z.Log = NewLogger(zerolog.Nop())
	assert.Error(t, z.Connect())
	assert.False(t, z.IsConnected())
}

func TestCommandTimeout(t *testing.T) {
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_GET_VERSION {
			return []testReply{}
		}
		return nil
	}))
	z := connectTo(t, f)
	z.Timeout = 100 * time.Millisecond

	_, err := z.GetFirmwareVersion()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestDeviceOptions(t *testing.T) {
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_VERSION:
			return []testReply{{code: CMD_ACK_OK, data: []byte("Ver 6.60 Apr 28 2017\x00")}}
		case CMD_OPTIONS_RRQ:
			key := cString(string(payload))
			values := map[string]string{
				"~SerialNumber": "PAS4241300509",
				"~Platform":     "ZMM220_TFT",
				"~DeviceName":   "K40",
				"MAC":           "00:17:61:11:22:33",
				"IPAddress":     "192.168.1.201",
				"NetMask":       "255.255.255.0",
				"GATEIPAddress": "192.168.1.1",
			}
			if v, ok := values[key]; ok {
				return []testReply{{code: CMD_ACK_OK, data: []byte(key + "=" + v + "\x00")}}
			}
		}
		return nil
	}))
	z := connectTo(t, f)

	fw, err := z.GetFirmwareVersion()
	require.NoError(t, err)
	assert.Equal(t, "Ver 6.60 Apr 28 2017", fw)

	serial, err := z.GetSerialNumber()
	require.NoError(t, err)
	assert.Equal(t, "PAS4241300509", serial)

	platform, err := z.GetPlatform()
	require.NoError(t, err)
	assert.Equal(t, "ZMM220_TFT", platform)

	params, err := z.GetNetworkParams()
	require.NoError(t, err)
	assert.Equal(t, &NetworkParams{IP: "192.168.1.201", Mask: "255.255.255.0", Gateway: "192.168.1.1"}, params)

	_, err = z.GetOption("~Unknown")
	assert.ErrorIs(t, err, ErrResponse)
}

func TestGetUsersDirectData(t *testing.T) {
	users := []User{
		{UID: 1, UserID: "NN-1", Name: "", Privilege: USER_DEFAULT},
		{UID: 2, UserID: "70123456", Name: "Ana Quispe", Privilege: USER_ADMIN, Password: "123", GroupID: "1", Card: 9876543},
	}
	table := userTable(t, users...)

	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_FREE_SIZES:
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(2, 0, 0)}}
		case CMD_PREPARE_BUFFER:
			return []testReply{{code: CMD_DATA, data: table}}
		}
		return nil
	}))
	z := connectTo(t, f)

	got, err := z.GetUsers()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].UID)
	assert.Equal(t, "NN-1", got[0].UserID)
	assert.Equal(t, "Ana Quispe", got[1].Name)
	assert.Equal(t, USER_ADMIN, got[1].Privilege)
	assert.Equal(t, "123", got[1].Password)
	assert.Equal(t, "1", got[1].GroupID)
	assert.Equal(t, uint32(9876543), got[1].Card)
}

func TestGetUsersChunked(t *testing.T) {
	table := userTable(t,
		User{UID: 10, UserID: "10", Name: "A"},
		User{UID: 11, UserID: "11", Name: "B"},
		User{UID: 12, UserID: "12", Name: "C"},
	)

	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_FREE_SIZES:
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(3, 0, 0)}}
		case CMD_PREPARE_BUFFER:
			announce := make([]byte, 9)
			binary.LittleEndian.PutUint32(announce[1:], uint32(len(table)))
			return []testReply{{code: CMD_ACK_OK, data: announce}}
		case CMD_READ_BUFFER:
			size := make([]byte, 4)
			binary.LittleEndian.PutUint32(size, uint32(len(table)))
			half := len(table) / 2
			return []testReply{
				{code: CMD_PREPARE_DATA, data: size},
				{code: CMD_DATA, data: table[:half]},
				{code: CMD_DATA, data: table[half:]},
				{code: CMD_ACK_OK},
			}
		}
		return nil
	}))
	z := connectTo(t, f)

	got, err := z.GetUsers()
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, u := range got {
		assert.Equal(t, 10+i, u.UID)
	}
	assert.Contains(t, f.commands(), CMD_FREE_DATA)
}

func TestReadAllUserIDDirect(t *testing.T) {
	table := userTable(t, User{UID: 4, UserID: "4", Name: "D"})
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_USERTEMP_RRQ {
			size := make([]byte, 4)
			binary.LittleEndian.PutUint32(size, uint32(len(table)))
			return []testReply{
				{code: CMD_PREPARE_DATA, data: size},
				{code: CMD_DATA, data: table},
				{code: CMD_ACK_OK},
			}
		}
		return nil
	}))
	z := connectTo(t, f)

	got, err := z.ReadAllUserID()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "D", got[0].Name)
}

func TestMalformedPacketIsCorruption(t *testing.T) {
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_FREE_SIZES:
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(1, 0, 0)}}
		case CMD_PREPARE_BUFFER:
			return []testReply{{raw: []byte{0x50, 0x50, 0x82, 0x7d, 0x02, 0x00, 0x00, 0x00}}}
		}
		return nil
	}))
	z := connectTo(t, f)

	_, err := z.GetUsers()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedLength)
	assert.True(t, IsCorruption(err))
}

func TestSessionSurvivesCorruptedReply(t *testing.T) {
	var corrupted atomic.Bool
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_FREE_SIZES:
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(1, 0, 0)}}
		case CMD_PREPARE_BUFFER:
			if corrupted.CompareAndSwap(false, true) {
				// bad length followed by stray bytes from the broken packet
				return []testReply{{raw: []byte{0x50, 0x50, 0x82, 0x7d, 0x02, 0x00, 0x00, 0x00, 0xde, 0xad, 0xbe, 0xef}}}
			}
		}
		return nil
	}))
	z := connectTo(t, f)
	sessionID := z.SessionID()

	_, err := z.GetUsers()
	require.Error(t, err)
	assert.True(t, IsCorruption(err))
	assert.True(t, z.IsConnected())

	sizes, err := z.ReadSizes()
	require.NoError(t, err)
	assert.Equal(t, 1, sizes.Users)
	assert.Equal(t, sessionID, z.SessionID())

	require.NoError(t, z.Connect())
	sizes, err = z.ReadSizes()
	require.NoError(t, err)
	assert.Equal(t, 1, sizes.Users)
}

func TestConnectRedialsDeadLink(t *testing.T) {
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_GET_FREE_SIZES {
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(3, 0, 0)}}
		}
		return nil
	}))
	z := connectTo(t, f)

	z.link.conn.Close()
	<-z.Done()
	assert.False(t, z.IsConnected())

	require.NoError(t, z.Connect())
	assert.True(t, z.IsConnected())
	sizes, err := z.ReadSizes()
	require.NoError(t, err)
	assert.Equal(t, 3, sizes.Users)

	connects := 0
	for _, cmd := range f.commands() {
		if cmd == CMD_CONNECT {
			connects++
		}
	}
	assert.Equal(t, 2, connects)
}

func TestSetUserReportsAck(t *testing.T) {
	var ack atomic.Int32
	ack.Store(CMD_ACK_OK)
	written := make(chan []byte, 2)
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_USER_WRQ {
			written <- append([]byte(nil), payload...)
			return []testReply{{code: int(ack.Load())}}
		}
		return nil
	}))
	z := connectTo(t, f)

	ok, err := z.SetUser(User{UID: 7, UserID: "70123456", Name: "Luis Mamani"})
	require.NoError(t, err)
	assert.True(t, ok)
	record := <-written
	require.Len(t, record, 72)

	users, err := parseUsers(append([]byte{72, 0, 0, 0}, record...), 1)
	require.NoError(t, err)
	assert.Equal(t, "Luis Mamani", users[0].Name)
	assert.Equal(t, "70123456", users[0].UserID)

	ack.Store(CMD_ACK_ERROR)
	ok, err = z.SetUser(User{UID: 7, Name: "Luis Mamani"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserTemplate(t *testing.T) {
	template := append([]byte("TEMPLATE-DATA"), 0, 0, 0, 0, 0, 0, 1)
	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_GET_USERTEMP {
			if payload[2] == 0 {
				return []testReply{{code: CMD_DATA, data: template}}
			}
			return []testReply{{code: CMD_ACK_ERROR}}
		}
		return nil
	}))
	z := connectTo(t, f)

	tpl, err := z.GetUserTemplate(3, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("TEMPLATE-DATA"), tpl)

	tpl, err = z.GetUserTemplate(3, 1)
	require.NoError(t, err)
	assert.Nil(t, tpl)
}

func TestLiveCapture(t *testing.T) {
	event := make([]byte, 32)
	copy(event, "70123456")
	event[24] = 1 // fingerprint
	event[25] = 0 // check-in
	copy(event[26:], []byte{24, 3, 15, 8, 30, 45})

	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		if cmd == CMD_REG_EVENT {
			if binary.LittleEndian.Uint32(payload) == 0 {
				return []testReply{{code: CMD_ACK_OK}}
			}
			return []testReply{
				{code: CMD_ACK_OK},
				{raw: framePacket(CMD_REG_EVENT, 0x55, 0, event)},
			}
		}
		return nil
	}))
	z := connectTo(t, f)

	punches := make(chan *Attendance, 1)
	require.NoError(t, z.LiveCapture(punches))
	assert.Error(t, z.LiveCapture(punches))

	select {
	case att := <-punches:
		assert.Equal(t, "70123456", att.UserID)
		assert.Equal(t, uint(1), att.VerifyMethod)
		assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC), att.AttendedAt)
	case <-time.After(2 * time.Second):
		t.Fatal("no punch received")
	}

	z.StopCapture()
	assert.Eventually(t, func() bool {
		for _, c := range f.commands() {
			if c == CMD_ACK_OK {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestGetAttendancesForty(t *testing.T) {
	record := make([]byte, 40)
	binary.LittleEndian.PutUint16(record, 2)
	copy(record[2:], "70123456")
	record[26] = 1
	binary.LittleEndian.PutUint32(record[27:], encodeTime(time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC)))
	record[31] = 1
	table := append([]byte{40, 0, 0, 0}, record...)

	f := newFakeTerminal(t, baseHandler(func(cmd int, payload []byte) []testReply {
		switch cmd {
		case CMD_GET_FREE_SIZES:
			return []testReply{{code: CMD_ACK_OK, data: sizesBlock(0, 0, 1)}}
		case CMD_PREPARE_BUFFER:
			return []testReply{{code: CMD_DATA, data: table}}
		}
		return nil
	}))
	z := connectTo(t, f)

	got, err := z.GetAttendances()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].UID)
	assert.Equal(t, "70123456", got[0].UserID)
	assert.Equal(t, uint(1), got[0].AttState)
	assert.Equal(t, time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC), got[0].AttendedAt)
}
