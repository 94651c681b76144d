package zk

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"
)

// hexDump renders at most 32 bytes of buf for error messages.
func hexDump(buf []byte) string {
	if len(buf) > 32 {
		return hex.EncodeToString(buf[:32]) + "..."
	}
	return hex.EncodeToString(buf)
}

func LoadLocation(timezone string) *time.Location {
	location, err := time.LoadLocation(timezone)
	if err != nil {
		return time.Local
	}

	return location
}

func newBP() *binarypack.BinaryPack {
	return &binarypack.BinaryPack{}
}

// unpack wraps the struct decoder so every decode failure carries ErrUnpack.
func unpack(pad []string, data []byte) ([]interface{}, error) {
	value, err := newBP().UnPack(pad, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnpack, err)
	}
	return value, nil
}

// The decoder hands back ints; normalise them to the unsigned width of the field.
func u8(v interface{}) int {
	n, _ := v.(int)
	return int(uint8(n))
}

func u16(v interface{}) int {
	n, _ := v.(int)
	return int(uint16(n))
}

func u32(v interface{}) uint32 {
	n, _ := v.(int)
	return uint32(n)
}

func str(v interface{}) string {
	s, _ := v.(string)
	return cString(s)
}

// cString cuts s at the first NUL and replaces invalid UTF-8.
func cString(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

// fit truncates s so it can be packed into an n-byte string field.
func fit(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func createCheckSum(buf []byte) int {
	checksum := 0

	for len(buf) > 1 {
		checksum += int(buf[0]) | int(buf[1])<<8
		if checksum > USHRT_MAX {
			checksum -= USHRT_MAX
		}
		buf = buf[2:]
	}

	if len(buf) > 0 {
		checksum += int(buf[0])
	}

	for checksum > USHRT_MAX {
		checksum -= USHRT_MAX
	}

	checksum = ^checksum
	for checksum < 0 {
		checksum += USHRT_MAX
	}

	return checksum
}

func createHeader(command int, commandString []byte, sessionID int, replyID int) ([]byte, error) {
	buf, err := newBP().Pack([]string{"H", "H", "H", "H"}, []interface{}{command, 0, sessionID, replyID})
	if err != nil {
		return nil, err
	}
	buf = append(buf, commandString...)

	checksum := createCheckSum(buf)

	replyID++
	if replyID >= USHRT_MAX {
		replyID -= USHRT_MAX
	}

	packData, err := newBP().Pack([]string{"H", "H", "H", "H"}, []interface{}{command, checksum, sessionID, replyID})
	if err != nil {
		return nil, err
	}

	return append(packData, commandString...), nil
}

func createTCPTop(packet []byte) ([]byte, error) {
	top, err := newBP().Pack([]string{"H", "H", "I"}, []interface{}{MACHINE_PREPARE_DATA_1, MACHINE_PREPARE_DATA_2, len(packet)})
	if err != nil {
		return nil, err
	}

	return append(top, packet...), nil
}

// testTCPTop validates the 8-byte TCP prefix and returns the announced length.
func testTCPTop(top []byte) (int, error) {
	if len(top) < 8 {
		return 0, fmt.Errorf("%w: short tcp top (%d bytes)", ErrMalformedLength, len(top))
	}
	tcpHeader, err := unpack([]string{"H", "H", "I"}, top[:8])
	if err != nil {
		return 0, err
	}
	if u16(tcpHeader[0]) != MACHINE_PREPARE_DATA_1 || u16(tcpHeader[1]) != MACHINE_PREPARE_DATA_2 {
		return 0, fmt.Errorf("%w: bad tcp magic %s", ErrMalformedLength, hexDump(top[:8]))
	}

	length := int(u32(tcpHeader[2]))
	if length < 8 || length > maxPacketSize {
		return 0, fmt.Errorf("%w: %d", ErrMalformedLength, length)
	}
	return length, nil
}

func MakeCommonKey(key, sessionid int, ticks int) ([]byte, error) {
	return makeCommKey(key, sessionid, ticks)
}

func makeCommKey(key, sessionid int, ticks int) ([]byte, error) {
	k := 0
	// bit reversal
	for i := 31; i >= 0 && key != 0; i-- {
		k |= key & 1 << i
		key >>= 1
	}
	k += sessionid
	k ^= 0x4f534b5a // ZKSO
	k = (k&0xffff)<<16 | k>>16
	k = (k & 0xFF00FFFF) ^ (ticks | ticks<<8 | (ticks << 16) | (ticks << 24))
	return newBP().Pack([]string{"I"}, []interface{}{k})
}

// userRecordFormat is the 72-byte user layout used by current firmware.
var userRecordFormat = []string{"H", "B", "8s", "24s", "I", "B", "7s", "B", "24s"}

// legacyUserRecordFormat is the 28-byte layout of older terminals.
var legacyUserRecordFormat = []string{"H", "B", "5s", "8s", "I", "B", "B", "H", "I"}

func makeUserCommand(user User) ([]byte, error) {
	privilege := user.Privilege
	if privilege != USER_DEFAULT && privilege != USER_ADMIN {
		privilege = USER_DEFAULT
	}

	values := []interface{}{
		user.UID,
		privilege,
		fit(user.Password, 8),
		fit(user.Name, 24),
		int(user.Card),
		0,
		fit(user.GroupID, 7),
		0,
		fit(user.UserID, 24),
	}
	return newBP().Pack(userRecordFormat, values)
}

func makeGetUserTemplateCommand(uid int, fid int) ([]byte, error) {
	return newBP().Pack([]string{"H", "B"}, []interface{}{uid, fid})
}

func getDataSize(rescode int, data []byte) (int, error) {
	if rescode != CMD_PREPARE_DATA {
		return 0, nil
	}
	if len(data) < 4 {
		return 0, fmt.Errorf("%w: prepare data without size", ErrMalformedLength)
	}
	sizeUnpack, err := unpack([]string{"I"}, data[:4])
	if err != nil {
		return 0, err
	}
	return int(u32(sizeUnpack[0])), nil
}

// decodeTime decodes the packed 32-bit timestamp used in attendance records.
func decodeTime(b []byte, loc *time.Location) (time.Time, error) {
	v, err := unpack([]string{"I"}, b)
	if err != nil {
		return time.Time{}, err
	}
	t := int(u32(v[0]))

	second := t % 60
	t /= 60
	minute := t % 60
	t /= 60
	hour := t % 24
	t /= 24
	day := t%31 + 1
	t /= 31
	month := t%12 + 1
	t /= 12
	year := t + 2000

	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// decodeTimeHex decodes the 6-byte timestamp carried by realtime events.
func decodeTimeHex(b []byte, loc *time.Location) time.Time {
	if len(b) < 6 {
		return time.Time{}
	}
	return time.Date(int(b[0])+2000, time.Month(b[1]), int(b[2]), int(b[3]), int(b[4]), int(b[5]), 0, loc)
}
