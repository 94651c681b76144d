package wire

import (
	"strconv"
	"strings"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"

	"github.com/quira/zkbridge/internal/domain"
)

// Fixed record sizes of the query replies.
const (
	DeviceInfoFieldSize = 32
	UserRecordSize      = 72
	AttendanceSize      = 16
)

var deviceInfoKeys = []string{
	domain.InfoFirmwareVersion,
	domain.InfoSerialNumber,
	domain.InfoPlatform,
	domain.InfoAlgorithm,
	domain.InfoDeviceName,
}

var (
	userFormat       = []string{"I", "32s", "8s", "I", "I", "I", "I", "I", "I", "I"}
	attendanceFormat = []string{"I", "I", "I", "I"}
)

// DecodeDeviceInfo reads the device-info block: firmware, serial, platform,
// algorithm and device name, each a NUL padded 32-byte field. Fields cut
// short by the end of the payload are left out.
func DecodeDeviceInfo(payload []byte) domain.DeviceInfo {
	info := domain.DeviceInfo{}
	for i, key := range deviceInfoKeys {
		off := i * DeviceInfoFieldSize
		if off+DeviceInfoFieldSize > len(payload) {
			break
		}
		info[key] = text(string(payload[off : off+DeviceInfoFieldSize]))
	}
	return info
}

// DecodeUsers reads 72-byte user records. A trailing partial record is
// dropped.
func DecodeUsers(payload []byte) []domain.UserRecord {
	n := len(payload) / UserRecordSize
	users := make([]domain.UserRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := payload[i*UserRecordSize : (i+1)*UserRecordSize]
		v, err := (&binarypack.BinaryPack{}).UnPack(userFormat, rec)
		if err != nil {
			break
		}
		users = append(users, domain.UserRecord{
			UID:              int(u32(v[0])),
			UserID:           strconv.FormatUint(uint64(u32(v[0])), 10),
			Name:             text(v[1].(string)),
			Password:         text(v[2].(string)),
			Privilege:        domain.PrivilegeFromDevice(int(u32(v[3]))),
			GroupID:          strconv.FormatUint(uint64(u32(v[4])), 10),
			Card:             u32(v[5]),
			FingerprintCount: int(u32(v[6])),
			FaceCount:        int(u32(v[7])),
			PasswordCount:    int(u32(v[8])),
			Status:           int(u32(v[9])),
		})
	}
	return users
}

// DecodeAttendance reads 16-byte attendance records (user id, unix time,
// status, verification type). A trailing partial record is dropped.
func DecodeAttendance(payload []byte, loc *time.Location) []domain.AttendanceLogEntry {
	if loc == nil {
		loc = time.Local
	}
	n := len(payload) / AttendanceSize
	logs := make([]domain.AttendanceLogEntry, 0, n)
	for i := 0; i < n; i++ {
		rec := payload[i*AttendanceSize : (i+1)*AttendanceSize]
		v, err := (&binarypack.BinaryPack{}).UnPack(attendanceFormat, rec)
		if err != nil {
			break
		}
		uid := u32(v[0])
		status := int(u32(v[2]))
		logs = append(logs, domain.AttendanceLogEntry{
			UID:          int(uid),
			UserID:       strconv.FormatUint(uint64(uid), 10),
			Timestamp:    time.Unix(int64(u32(v[1])), 0).In(loc),
			Punch:        status,
			VerifyMethod: int(u32(v[3])),
			Status:       status,
		})
	}
	return logs
}

// text cuts s at the first NUL and replaces invalid UTF-8.
func text(s string) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}
