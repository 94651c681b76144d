package wire

import (
	"bytes"
	"testing"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quira/zkbridge/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     uint32
		payload []byte
	}{
		{"connect", CmdConnect, nil},
		{"device info", CmdDevice, []byte{}},
		{"user list", CmdUserList, []byte{0, 0, 0, 0, 5, 0, 0, 0}},
		{"binary", 0xFFFFFFFF, bytes.Repeat([]byte{0xff}, 300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCodec()
			c.SetSessionID(0xABCD1234)

			frame, err := c.Encode(tt.cmd, tt.payload)
			require.NoError(t, err)
			require.Len(t, frame, HeaderSize+len(tt.payload))

			f, ok := Decode(frame)
			require.True(t, ok)
			assert.Equal(t, tt.cmd, f.Command)
			assert.Equal(t, uint32(0xABCD1234), f.SessionID)
			assert.Equal(t, uint32(1), f.ReplyID)
			assert.Equal(t, len(tt.payload), len(f.Payload))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, f.Payload)
			}
		})
	}
}

func TestDecodeRejectsSingleBitCorruption(t *testing.T) {
	c := NewCodec()
	c.SetSessionID(7)
	frame, err := c.Encode(CmdAttLog, []byte("some payload bytes"))
	require.NoError(t, err)

	for i := range frame {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), frame...)
			corrupt[i] ^= 1 << bit
			_, ok := Decode(corrupt)
			assert.False(t, ok, "byte %d bit %d", i, bit)
		}
	}
}

func TestDecodeShortFrame(t *testing.T) {
	for _, n := range []int{0, 1, 8, HeaderSize - 1} {
		_, ok := Decode(make([]byte, n))
		assert.False(t, ok, "length %d", n)
	}

	_, ok := Decode(make([]byte, HeaderSize))
	assert.True(t, ok)
}

func TestReplyIDIncrements(t *testing.T) {
	c := NewCodec()
	for i := uint32(1); i <= 50; i++ {
		frame, err := c.Encode(CmdUserCount, nil)
		require.NoError(t, err)
		f, ok := Decode(frame)
		require.True(t, ok)
		assert.Equal(t, i, f.ReplyID)
		assert.Equal(t, i, c.ReplyID())
	}

	c.Reset()
	assert.Equal(t, uint32(0), c.ReplyID())
	assert.Equal(t, uint32(0), c.SessionID())
}

func TestChecksumSkipsChecksumField(t *testing.T) {
	frame := []byte{1, 0, 0, 0, 0xff, 0xff, 0xff, 0xff, 2, 0, 0, 0, 3, 0, 0, 0, 4}
	assert.Equal(t, uint32(10), Checksum(frame))
}

func packUser(t *testing.T, uid int, name, password string, role, fingers int) []byte {
	t.Helper()
	rec, err := (&binarypack.BinaryPack{}).Pack(userFormat, []interface{}{
		uid, name, password, role, 1, 0, fingers, 0, 0, 1,
	})
	require.NoError(t, err)
	require.Len(t, rec, UserRecordSize)
	return rec
}

func TestDecodeUsersDropsPartialRecord(t *testing.T) {
	var payload []byte
	for uid := 1; uid <= 5; uid++ {
		payload = append(payload, packUser(t, uid, "user", "", 0, uid%3)...)
	}
	payload = append(payload, make([]byte, 30)...)

	users := DecodeUsers(payload)
	require.Len(t, users, 5)
	for i, u := range users {
		assert.Equal(t, i+1, u.UID)
		assert.Equal(t, (i+1)%3, u.FingerprintCount)
	}

	assert.Empty(t, DecodeUsers(payload[:UserRecordSize-1]))
	assert.NotNil(t, DecodeUsers(nil))
}

func TestDecodeUsersFields(t *testing.T) {
	rec := packUser(t, 42, "Rosa Ccori\xff", "9876", domain.DeviceAdminPrivilege, 2)
	users := DecodeUsers(rec)
	require.Len(t, users, 1)

	u := users[0]
	assert.Equal(t, 42, u.UID)
	assert.Equal(t, "42", u.UserID)
	assert.Equal(t, "Rosa Ccori\uFFFD", u.Name)
	assert.Equal(t, "9876", u.Password)
	assert.Equal(t, domain.PrivilegeAdmin, u.Privilege)
	assert.Equal(t, "1", u.GroupID)
	assert.Equal(t, 2, u.FingerprintCount)
	assert.Equal(t, 1, u.Status)
}

func TestDecodeDeviceInfo(t *testing.T) {
	field := func(s string) []byte {
		b := make([]byte, DeviceInfoFieldSize)
		copy(b, s)
		return b
	}
	var payload []byte
	for _, s := range []string{"Ver 6.60", "PAS4241300509", "ZMM220_TFT", "ZKFinger VX10.0", "K40"} {
		payload = append(payload, field(s)...)
	}

	info := DecodeDeviceInfo(payload)
	assert.Equal(t, "Ver 6.60", info[domain.InfoFirmwareVersion])
	assert.Equal(t, "PAS4241300509", info[domain.InfoSerialNumber])
	assert.Equal(t, "ZMM220_TFT", info[domain.InfoPlatform])
	assert.Equal(t, "ZKFinger VX10.0", info[domain.InfoAlgorithm])
	assert.Equal(t, "K40", info[domain.InfoDeviceName])

	short := DecodeDeviceInfo(payload[:2*DeviceInfoFieldSize+10])
	assert.Len(t, short, 2)
	assert.Equal(t, "PAS4241300509", short[domain.InfoSerialNumber])
}

func TestDecodeAttendance(t *testing.T) {
	at := time.Date(2024, 3, 15, 8, 30, 0, 0, time.UTC)
	rec, err := (&binarypack.BinaryPack{}).Pack(attendanceFormat, []interface{}{7, int(at.Unix()), 1, 1})
	require.NoError(t, err)

	logs := DecodeAttendance(append(rec, 1, 2, 3), time.UTC)
	require.Len(t, logs, 1)
	assert.Equal(t, 7, logs[0].UID)
	assert.Equal(t, "7", logs[0].UserID)
	assert.True(t, at.Equal(logs[0].Timestamp))
	assert.Equal(t, domain.PunchOut, logs[0].Punch)
	assert.Equal(t, 1, logs[0].VerifyMethod)
}
