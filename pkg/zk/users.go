package zk

import (
	"bytes"
	"fmt"
	"strconv"
)

// ReadSizes returns the record counters of the terminal.
func (zk *ZK) ReadSizes() (*Sizes, error) {
	res, err := zk.sendCommand(CMD_GET_FREE_SIZES, nil)
	if err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, fmt.Errorf("%w: read sizes answered %d", ErrResponse, res.Code)
	}
	if len(res.Data) < 80 {
		return nil, fmt.Errorf("%w: sizes block is %d bytes", ErrMalformedLength, len(res.Data))
	}

	format := make([]string, 20)
	for i := range format {
		format[i] = "I"
	}
	fields, err := unpack(format, res.Data[:80])
	if err != nil {
		return nil, err
	}

	return &Sizes{
		Users:      int(u32(fields[4])),
		Fingers:    int(u32(fields[6])),
		Records:    int(u32(fields[8])),
		Cards:      int(u32(fields[12])),
		FingersCap: int(u32(fields[14])),
		UsersCap:   int(u32(fields[15])),
		RecordsCap: int(u32(fields[16])),
	}, nil
}

// GetUsers returns the user table through a buffered read.
func (zk *ZK) GetUsers() ([]*User, error) {
	sizes, err := zk.ReadSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Users == 0 {
		return []*User{}, nil
	}

	data, size, err := zk.readWithBuffer(CMD_USERTEMP_RRQ, FCT_USER, 0)
	if err != nil {
		return nil, err
	}
	if size <= 4 {
		return []*User{}, nil
	}

	return parseUsers(data, sizes.Users)
}

// ReadAllUserID reads the user table with a direct CMD_USERTEMP_RRQ, the path
// used by firmware that predates buffered reads.
func (zk *ZK) ReadAllUserID() ([]*User, error) {
	res, err := zk.sendCommand(CMD_USERTEMP_RRQ, []byte{FCT_USER})
	if err != nil {
		return nil, err
	}
	if !res.Status {
		return nil, fmt.Errorf("%w: user read answered %d", ErrResponse, res.Code)
	}

	data, err := zk.receiveChunk(res)
	if err != nil {
		return nil, err
	}
	if len(data) <= 4 {
		return []*User{}, nil
	}
	return parseUsers(data, 0)
}

// parseUsers decodes a user table prefixed with its byte size. count is the
// number of users the terminal reported; 0 infers the record size.
func parseUsers(data []byte, count int) ([]*User, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: user table is %d bytes", ErrMalformedLength, len(data))
	}
	sizeUnpack, err := unpack([]string{"I"}, data[:4])
	if err != nil {
		return nil, err
	}
	total := int(u32(sizeUnpack[0]))
	data = data[4:]

	packetSize := 0
	switch {
	case count > 0:
		packetSize = total / count
	case total%72 == 0:
		packetSize = 72
	case total%28 == 0:
		packetSize = 28
	}

	users := []*User{}
	switch packetSize {
	case 28:
		for len(data) >= 28 {
			v, err := unpack(legacyUserRecordFormat, data[:28])
			if err != nil {
				return nil, err
			}
			users = append(users, &User{
				UID:       u16(v[0]),
				Privilege: u8(v[1]),
				Password:  str(v[2]),
				Name:      str(v[3]),
				Card:      u32(v[4]),
				GroupID:   strconv.Itoa(u8(v[6])),
				UserID:    strconv.FormatUint(uint64(u32(v[8])), 10),
			})
			data = data[28:]
		}
	case 72:
		for len(data) >= 72 {
			v, err := unpack(userRecordFormat, data[:72])
			if err != nil {
				return nil, err
			}
			users = append(users, &User{
				UID:       u16(v[0]),
				Privilege: u8(v[1]),
				Password:  str(v[2]),
				Name:      str(v[3]),
				Card:      u32(v[4]),
				GroupID:   str(v[6]),
				UserID:    str(v[8]),
			})
			data = data[72:]
		}
	default:
		return nil, fmt.Errorf("%w: unsupported user record size %d", ErrUnpack, packetSize)
	}

	return users, nil
}

// SetUser writes (inserts or updates) a user. The boolean is the terminal's
// acknowledgement; some firmware stores the user yet answers with a non-OK
// code, so callers decide how much to trust it.
func (zk *ZK) SetUser(user User) (bool, error) {
	commandString, err := makeUserCommand(user)
	if err != nil {
		return false, err
	}

	res, err := zk.sendCommand(CMD_USER_WRQ, commandString)
	if err != nil {
		return false, err
	}

	zk.Log.Debugf("[%d] set user uid=%d answered %d", zk.machineID, user.UID, res.Code)
	return res.Status, nil
}

// DeleteUser removes a user and its templates.
func (zk *ZK) DeleteUser(uid int) error {
	commandString, err := newBP().Pack([]string{"H"}, []interface{}{uid})
	if err != nil {
		return err
	}

	res, err := zk.sendCommand(CMD_DELETE_USER, commandString)
	if err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("%w: delete user %d answered %d", ErrResponse, uid, res.Code)
	}
	return zk.RefreshData()
}

// GetUserTemplate reads one fingerprint template slot. An empty slot yields
// a nil template and no error.
func (zk *ZK) GetUserTemplate(uid, fid int) ([]byte, error) {
	commandString, err := makeGetUserTemplateCommand(uid, fid)
	if err != nil {
		return nil, err
	}

	res, err := zk.sendCommand(CMD_GET_USERTEMP, commandString)
	if err != nil {
		return nil, err
	}
	if res.Code != CMD_DATA && res.Code != CMD_PREPARE_DATA {
		return nil, nil
	}

	data, err := zk.receiveChunk(res)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	// trailing status byte and zero padding
	data = data[:len(data)-1]
	data = bytes.TrimSuffix(data, make([]byte, 6))
	if len(data) == 0 {
		return nil, nil
	}
	return data, nil
}

// GetTemplates reads every stored fingerprint template.
func (zk *ZK) GetTemplates() ([]*Finger, error) {
	sizes, err := zk.ReadSizes()
	if err != nil {
		return nil, err
	}
	if sizes.Fingers == 0 {
		return []*Finger{}, nil
	}

	data, size, err := zk.readWithBuffer(CMD_DB_RRQ, FCT_FINGERTMP, 0)
	if err != nil {
		return nil, err
	}
	if size < 4 {
		return []*Finger{}, nil
	}

	return parseTemplates(data)
}

func parseTemplates(data []byte) ([]*Finger, error) {
	sizeUnpack, err := unpack([]string{"I"}, data[:4])
	if err != nil {
		return nil, err
	}
	total := int(u32(sizeUnpack[0]))
	data = data[4:]

	fingers := []*Finger{}
	for total > 0 && len(data) >= 6 {
		v, err := unpack([]string{"H", "H", "B", "B"}, data[:6])
		if err != nil {
			return nil, err
		}
		size := u16(v[0])
		if size < 6 || size > len(data) {
			return nil, fmt.Errorf("%w: template record of %d bytes", ErrUnpack, size)
		}

		template := make([]byte, size-6)
		copy(template, data[6:size])
		fingers = append(fingers, &Finger{
			UID:      u16(v[1]),
			FID:      u8(v[2]),
			Valid:    u8(v[3]) != 0,
			Template: template,
		})
		data = data[size:]
		total -= size
	}
	return fingers, nil
}
