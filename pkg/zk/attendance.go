package zk

import (
	"fmt"
	"strconv"
)

// GetAttendances returns the attendance log through a buffered read.
func (zk *ZK) GetAttendances() ([]*Attendance, error) {
	sizes, err := zk.ReadSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Records == 0 {
		return []*Attendance{}, nil
	}

	users, err := zk.GetUsers()
	if err != nil {
		return nil, err
	}

	data, size, err := zk.readWithBuffer(CMD_ATTLOG_RRQ, 0, 0)
	if err != nil {
		return nil, err
	}
	if size < 4 {
		return []*Attendance{}, nil
	}

	return zk.parseAttendances(data, sizes.Records, users)
}

// ReadAttendances reads the attendance log with a direct CMD_ATTLOG_RRQ.
func (zk *ZK) ReadAttendances() ([]*Attendance, error) {
	res, err := zk.sendCommand(CMD_ATTLOG_RRQ, nil)
	if err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, fmt.Errorf("%w: attendance read answered %d", ErrResponse, res.Code)
	}

	data, err := zk.receiveChunk(res)
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return []*Attendance{}, nil
	}
	return zk.parseAttendances(data, 0, nil)
}

// parseAttendances decodes an attendance table prefixed with its byte size.
// Terminals use 8, 16 or 40 byte records; records is the count the terminal
// reported, 0 infers the record size.
func (zk *ZK) parseAttendances(data []byte, records int, users []*User) ([]*Attendance, error) {
	sizeUnpack, err := unpack([]string{"I"}, data[:4])
	if err != nil {
		return nil, err
	}
	total := int(u32(sizeUnpack[0]))
	data = data[4:]

	recordSize := 0
	switch {
	case records > 0:
		recordSize = total / records
	case total%40 == 0:
		recordSize = 40
	case total%16 == 0:
		recordSize = 16
	case total%8 == 0:
		recordSize = 8
	}

	uidByUserID := make(map[string]int, len(users))
	userIDByUID := make(map[int]string, len(users))
	for _, u := range users {
		uidByUserID[u.UserID] = u.UID
		userIDByUID[u.UID] = u.UserID
	}

	attendances := []*Attendance{}
	switch recordSize {
	case 8:
		for len(data) >= 8 {
			v, err := unpack([]string{"H", "B", "4s", "B"}, data[:8])
			if err != nil {
				return nil, err
			}
			timestamp, err := decodeTime([]byte(v[2].(string)), zk.loc)
			if err != nil {
				return nil, err
			}
			uid := u16(v[0])
			userID, ok := userIDByUID[uid]
			if !ok {
				userID = strconv.Itoa(uid)
			}
			attendances = append(attendances, &Attendance{
				UID:          uid,
				UserID:       userID,
				AttendedAt:   timestamp,
				VerifyMethod: uint(u8(v[1])),
				AttState:     uint(u8(v[3])),
				SensorID:     zk.machineID,
			})
			data = data[8:]
		}
	case 16:
		for len(data) >= 16 {
			v, err := unpack([]string{"I", "4s", "B", "B", "2s", "I"}, data[:16])
			if err != nil {
				return nil, err
			}
			timestamp, err := decodeTime([]byte(v[1].(string)), zk.loc)
			if err != nil {
				return nil, err
			}
			userID := strconv.FormatUint(uint64(u32(v[0])), 10)
			uid, ok := uidByUserID[userID]
			if !ok {
				uid = int(u32(v[0]))
			}
			attendances = append(attendances, &Attendance{
				UID:          uid,
				UserID:       userID,
				AttendedAt:   timestamp,
				VerifyMethod: uint(u8(v[2])),
				AttState:     uint(u8(v[3])),
				SensorID:     zk.machineID,
			})
			data = data[16:]
		}
	case 40:
		for len(data) >= 40 {
			v, err := unpack([]string{"H", "24s", "B", "4s", "B", "8s"}, data[:40])
			if err != nil {
				return nil, err
			}
			timestamp, err := decodeTime([]byte(v[3].(string)), zk.loc)
			if err != nil {
				return nil, err
			}
			attendances = append(attendances, &Attendance{
				UID:          u16(v[0]),
				UserID:       str(v[1]),
				AttendedAt:   timestamp,
				VerifyMethod: uint(u8(v[2])),
				AttState:     uint(u8(v[4])),
				SensorID:     zk.machineID,
			})
			data = data[40:]
		}
	default:
		return nil, fmt.Errorf("%w: unsupported attendance record size %d", ErrUnpack, recordSize)
	}

	return attendances, nil
}
