// Package rawdevice exposes terminal queries over the raw frame protocol.
// Every query is a single command; failures degrade to empty results.
package rawdevice

import (
	"math"
	"time"

	binarypack "github.com/canhlinh/go-binary-pack"
	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/metrics"
	"github.com/quira/zkbridge/internal/transport"
	"github.com/quira/zkbridge/internal/wire"
)

// Config describes one terminal endpoint.
type Config struct {
	Host     string
	Port     int
	Network  string
	Timeout  time.Duration
	Timezone string
}

// Device is the raw protocol facade. It owns one transport session and is
// not safe for concurrent use.
type Device struct {
	session *transport.Session
	loc     *time.Location
	logger  zerolog.Logger
	metrics *metrics.Registry
}

// New creates a disconnected facade.
func New(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) *Device {
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil || config.Timezone == "" {
		loc = time.Local
	}

	return &Device{
		session: transport.NewSession(transport.Config{
			Host:    config.Host,
			Port:    config.Port,
			Network: config.Network,
			Timeout: config.Timeout,
		}, logger),
		loc:     loc,
		logger:  logger.With().Str("component", "rawdevice").Logger(),
		metrics: metricsReg,
	}
}

func (d *Device) Connect() error {
	err := d.session.Connect()
	d.metrics.IncConnectAttempt(err == nil)
	return err
}

func (d *Device) Disconnect() {
	d.session.Disconnect()
}

// Reconnect drops the current session and performs a new handshake.
func (d *Device) Reconnect() error {
	d.session.Disconnect()
	return d.Connect()
}

func (d *Device) IsConnected() bool {
	return d.session.State() == transport.StateConnected
}

// SessionID returns the id assigned by the terminal at the last handshake.
func (d *Device) SessionID() uint32 {
	return d.session.SessionID()
}

// GetDeviceInfo returns the device-info block, or an empty map on failure.
func (d *Device) GetDeviceInfo() domain.DeviceInfo {
	payload, ok := d.query("device_info", wire.CmdDevice, nil)
	if !ok {
		return domain.DeviceInfo{}
	}
	return wire.DecodeDeviceInfo(payload)
}

// GetUserCount returns the number of enrolled users, 0 on failure.
func (d *Device) GetUserCount() int {
	payload, ok := d.query("user_count", wire.CmdUserCount, nil)
	if !ok || len(payload) < 4 {
		return 0
	}
	v, err := (&binarypack.BinaryPack{}).UnPack([]string{"I"}, payload[:4])
	if err != nil {
		return 0
	}
	n, _ := v[0].(int)
	return int(uint32(n))
}

// GetUserList returns count users starting at start, in device order. A
// count of 0 requests every user.
func (d *Device) GetUserList(start, count int) []domain.UserRecord {
	if start < 0 {
		start = 0
	}
	want := uint32(math.MaxUint32)
	if count > 0 {
		want = uint32(count)
	}

	req, err := (&binarypack.BinaryPack{}).Pack([]string{"I", "I"}, []interface{}{start, int(want)})
	if err != nil {
		return []domain.UserRecord{}
	}
	payload, ok := d.query("users", wire.CmdUserList, req)
	if !ok {
		return []domain.UserRecord{}
	}

	users := wire.DecodeUsers(payload)
	if count > 0 && len(users) > count {
		users = users[:count]
	}
	return users
}

// GetAttendanceLogs sends the range as epoch bounds and returns what the
// terminal answers; nothing is filtered locally.
func (d *Device) GetAttendanceLogs(r domain.DateRange) []domain.AttendanceLogEntry {
	startEpoch, endEpoch := r.EpochBounds()

	req, err := (&binarypack.BinaryPack{}).Pack([]string{"I", "I"}, []interface{}{int(startEpoch), int(endEpoch)})
	if err != nil {
		return []domain.AttendanceLogEntry{}
	}
	payload, ok := d.query("attendance", wire.CmdAttLog, req)
	if !ok {
		return []domain.AttendanceLogEntry{}
	}
	return wire.DecodeAttendance(payload, d.loc)
}

func (d *Device) query(name string, cmd uint32, payload []byte) ([]byte, bool) {
	started := time.Now()
	defer func() {
		d.metrics.ObserveQuery(name, time.Since(started).Seconds())
	}()

	reply, err := d.session.SendCommand(cmd, payload)
	if err != nil {
		d.logger.Error().Err(err).Str("query", name).Msg("Query failed")
		return nil, false
	}
	if reply.Command == wire.CmdAckError {
		d.logger.Error().Str("query", name).Msg("Terminal rejected query")
		return nil, false
	}
	return reply.Payload, true
}
