package zk

import (
	"fmt"
	"time"
)

type Response struct {
	Status    bool
	Code      int
	CommandID int
	Data      []byte
	ReplyID   int
}

type User struct {
	UID       int
	UserID    string
	Name      string
	Privilege int
	Password  string
	GroupID   string
	Card      uint32
	Fingers   []*Finger // only set when templates were read together with the user
}

type Finger struct {
	UID      int
	FID      int
	Valid    bool
	Template []byte
}

type Attendance struct {
	UID          int       // device internal uid, 0 when the record only carries UserID
	UserID       string    // enroll number
	AttendedAt   time.Time // device local time
	AttState     uint      // punch: 0 check-in, 1 check-out, up to 5
	VerifyMethod uint      // 0 password, 1 fingerprint, 2 card
	SensorID     int
}

// Sizes holds the counters reported by CMD_GET_FREE_SIZES.
type Sizes struct {
	Users      int
	Fingers    int
	Records    int
	Cards      int
	FingersCap int
	UsersCap   int
	RecordsCap int
}

// NetworkParams is the terminal's IPv4 configuration.
type NetworkParams struct {
	IP      string
	Mask    string
	Gateway string
}

type ZkHead struct {
	Code      int
	CheckSum  int
	SessionID int
	ReplyID   int
}

type DataMsg struct {
	Head ZkHead
	Data []byte
}

func (r Response) String() string {
	return fmt.Sprintf("Status %v Code %d", r.Status, r.Code)
}

func (u User) String() string {
	return fmt.Sprintf("<User uid=%d user_id=%q name=%q>", u.UID, u.UserID, u.Name)
}
