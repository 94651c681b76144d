// Package terminal is the facade over the vendor ZK protocol library. It adds
// the resilience the library lacks: ordered fallback strategies per query, a
// short-lived secondary connection when a read corrupts the stream, isolated
// metadata lookups and a lenient reading of user-write acknowledgements.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/metrics"
	"github.com/quira/zkbridge/pkg/zk"
)

// ErrUnsupported is returned when the driver lacks an optional capability.
var ErrUnsupported = errors.New("terminal: operation not supported by driver")

// Config describes one terminal reachable over the ZK TCP protocol.
type Config struct {
	MachineID int
	Host      string
	Port      int
	CommKey   int
	Timezone  string
	Timeout   time.Duration
}

// Terminal is not safe for concurrent use; calls are strictly sequential on
// one connection.
type Terminal struct {
	driver    Driver
	secondary DriverFactory
	logger    zerolog.Logger
	metrics   *metrics.Registry
}

// New wraps driver. secondary opens recovery connections; nil disables
// recovery.
func New(driver Driver, secondary DriverFactory, logger zerolog.Logger, metricsReg *metrics.Registry) *Terminal {
	return &Terminal{
		driver:    driver,
		secondary: secondary,
		logger:    logger.With().Str("component", "terminal").Logger(),
		metrics:   metricsReg,
	}
}

// NewZKTerminal builds a facade over a pkg/zk session to the configured
// terminal. Recovery connections are clones of the primary.
func NewZKTerminal(config Config, logger zerolog.Logger, metricsReg *metrics.Registry) *Terminal {
	if config.Port == 0 {
		config.Port = zk.DefaultPort
	}
	if config.Timezone == "" {
		config.Timezone = zk.DefaultTimezone
	}

	primary := zk.NewZK(config.MachineID, config.Host, config.Port, config.CommKey, config.Timezone)
	primary.Log = zk.NewLogger(logger.With().Str("host", config.Host).Logger())
	if config.Timeout > 0 {
		primary.Timeout = config.Timeout
	}

	return New(primary, func() Driver { return primary.Clone() }, logger, metricsReg)
}

func (t *Terminal) Connect() error {
	err := t.driver.Connect()
	t.metrics.IncConnectAttempt(err == nil)
	if err != nil {
		t.logger.Error().Err(err).Msg("Connect failed")
		return err
	}
	t.logger.Info().Int("session_id", t.driver.SessionID()).Msg("Connected to terminal")
	return nil
}

// Disconnect closes the connection; errors are logged and swallowed.
func (t *Terminal) Disconnect() {
	if err := t.driver.Disconnect(); err != nil {
		t.logger.Debug().Err(err).Msg("Disconnect")
	}
}

// Reconnect disconnects, ignoring errors, and connects again.
func (t *Terminal) Reconnect() error {
	t.Disconnect()
	return t.Connect()
}

func (t *Terminal) SessionID() int {
	return t.driver.SessionID()
}

// Location is the terminal's clock zone, used for its timestamps.
func (t *Terminal) Location() *time.Location {
	if l, ok := t.driver.(locator); ok && l.Location() != nil {
		return l.Location()
	}
	return time.Local
}

// SerialNumber reads only the serial number.
func (t *Terminal) SerialNumber() (string, error) {
	return call(t.driver.GetSerialNumber)
}

// SetUser writes rec to the terminal. Any call that returns without error
// counts as success, even when the terminal answers with a non-OK code; the
// raw acknowledgement is logged.
func (t *Terminal) SetUser(rec domain.UserRecord) bool {
	if rec.UID <= 0 || rec.UID > 0xFFFF {
		t.logger.Error().Int("uid", rec.UID).Msg("Refusing user write with invalid uid")
		return false
	}

	user := zk.User{
		UID:       rec.UID,
		UserID:    rec.UserID,
		Name:      rec.Name,
		Privilege: domain.PrivilegeToDevice(rec.Privilege),
		Password:  rec.Password,
		GroupID:   rec.GroupID,
		Card:      rec.Card,
	}

	ack, err := call(func() (bool, error) { return t.driver.SetUser(user) })
	if err != nil {
		t.logger.Error().Err(err).Int("uid", rec.UID).Msg("User write failed")
		return false
	}

	if !ack {
		t.metrics.IncFalsyAck()
	}
	t.logger.Info().
		Int("uid", rec.UID).
		Str("user_id", rec.UserID).
		Bool("raw_ack", ack).
		Msg("User written")

	if r, ok := t.driver.(refresher); ok {
		if err := r.RefreshData(); err != nil {
			t.logger.Warn().Err(err).Msg("Refresh after user write failed")
		}
	}
	return true
}

// DeleteUser removes a user from the terminal.
func (t *Terminal) DeleteUser(uid int) error {
	_, err := call(func() (struct{}, error) { return struct{}{}, t.driver.DeleteUser(uid) })
	return err
}

// LiveCapture forwards realtime punches to out until ctx is cancelled or the
// connection ends.
func (t *Terminal) LiveCapture(ctx context.Context, out chan<- domain.AttendanceLogEntry) error {
	lc, ok := t.driver.(liveCapturer)
	if !ok {
		return ErrUnsupported
	}

	punches := make(chan *zk.Attendance, 16)
	if err := lc.LiveCapture(punches); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	defer lc.StopCapture()

	done := lc.Done()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return fmt.Errorf("%w: connection closed during capture", domain.ErrDeviceUnreachable)
		case p := <-punches:
			t.metrics.IncLivePunch()
			select {
			case out <- toAttendanceEntry(p):
			case <-ctx.Done():
				return nil
			}
		}
	}
}
