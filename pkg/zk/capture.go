package zk

import (
	"errors"
	"fmt"
	"strconv"
)

type eventLayout struct {
	size   int
	format []string
}

// Realtime attendance events come in several layouts depending on firmware;
// the layout is chosen by the remaining payload length.
var eventLayouts = []eventLayout{
	{10, []string{"H", "B", "B", "6s"}},
	{12, []string{"I", "B", "B", "6s"}},
	{14, []string{"H", "B", "B", "6s", "4s"}},
	{32, []string{"24s", "B", "B", "6s"}},
	{36, []string{"24s", "B", "B", "6s", "4s"}},
	{37, []string{"24s", "B", "B", "6s", "5s"}},
}

var longEventLayout = eventLayout{52, []string{"24s", "B", "B", "6s", "20s"}}

func (zk *ZK) regEvent(flags int) error {
	commandString, err := newBP().Pack([]string{"I"}, []interface{}{flags})
	if err != nil {
		return err
	}
	res, err := zk.sendCommand(CMD_REG_EVENT, commandString)
	if err != nil {
		return err
	}
	if !res.Status {
		return fmt.Errorf("%w: register event answered %d", ErrResponse, res.Code)
	}
	return nil
}

// LiveCapture streams realtime punches to chanAttendance until StopCapture or
// Disconnect is called, or the connection drops.
func (zk *ZK) LiveCapture(chanAttendance chan<- *Attendance) error {
	if zk.capturing != nil {
		return errors.New("is capturing")
	}
	l := zk.link
	if l == nil {
		return ErrNotConnected
	}

	if zk.disabled {
		if err := zk.EnableDevice(); err != nil {
			return err
		}
	}

	if err := zk.regEvent(EF_ATTLOG); err != nil {
		return err
	}

	zk.Log.Info(zk.machineID, " Start capturing")
	stop := make(chan struct{})
	stopped := make(chan struct{})
	zk.capturing = stop
	zk.stopped = stopped

	go func() {
		defer close(stopped)
		for {
			select {
			case <-stop:
				return
			case <-l.done:
				zk.Log.Debug(zk.machineID, " connection closed, capture ended")
				return
			case msg := <-l.events:
				for _, att := range zk.parseEvent(msg.Data) {
					zk.Log.Debug(zk.machineID, " punch ", att.UserID, " ", att.AttendedAt)
					select {
					case chanAttendance <- att:
					case <-stop:
						return
					}
				}
			}
		}
	}()

	return nil
}

func (zk *ZK) StopCapture() {
	if zk.capturing == nil {
		return
	}
	zk.Log.Info(zk.machineID, " Stopping capturing")
	if err := zk.regEvent(0); err != nil {
		zk.Log.Error(zk.machineID, " unregister events failed: ", err)
	}
	close(zk.capturing)
	<-zk.stopped
	zk.capturing = nil
	zk.stopped = nil
	zk.Log.Info(zk.machineID, " Stopped capturing")
}

func (zk *ZK) parseEvent(data []byte) []*Attendance {
	events := []*Attendance{}
	for len(data) >= 10 {
		layout, ok := pickEventLayout(len(data))
		if !ok {
			zk.Log.Errorf("[%d] unknown event layout of %d bytes", zk.machineID, len(data))
			break
		}

		v, err := unpack(layout.format, data[:layout.size])
		if err != nil {
			zk.Log.Error(zk.machineID, " ", err)
			break
		}
		data = data[layout.size:]

		att := &Attendance{
			AttendedAt:   decodeTimeHex([]byte(v[3].(string)), zk.loc),
			VerifyMethod: uint(u8(v[1])),
			AttState:     uint(u8(v[2])),
			SensorID:     zk.machineID,
		}
		switch layout.format[0] {
		case "H":
			att.UID = u16(v[0])
			att.UserID = strconv.Itoa(att.UID)
		case "I":
			att.UserID = strconv.FormatUint(uint64(u32(v[0])), 10)
		default:
			att.UserID = str(v[0])
		}
		events = append(events, att)
	}
	return events
}

func pickEventLayout(n int) (eventLayout, bool) {
	for _, layout := range eventLayouts {
		if layout.size == n {
			return layout, true
		}
	}
	if n >= longEventLayout.size {
		return longEventLayout, true
	}
	return eventLayout{}, false
}
