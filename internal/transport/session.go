// Package transport owns the socket to one terminal speaking the raw frame
// format: handshake, session id and the command round trip.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/quira/zkbridge/internal/domain"
	"github.com/quira/zkbridge/internal/wire"
)

// ErrNotConnected is returned when a command is sent before Connect.
var ErrNotConnected = errors.New("transport: session not connected")

const maxFrameSize = 64 * 1024

// State of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds the endpoint of one terminal.
type Config struct {
	Host string
	Port int

	// Network is "udp" (default) or "tcp".
	Network string

	// Timeout bounds the dial and every command round trip.
	Timeout time.Duration
}

// Session is one connection to a terminal. It is not safe for concurrent
// use and is not reused across endpoints.
type Session struct {
	config Config
	codec  *wire.Codec
	conn   net.Conn
	state  State
	logger zerolog.Logger
}

// NewSession creates a disconnected session.
func NewSession(config Config, logger zerolog.Logger) *Session {
	if config.Network == "" {
		config.Network = "udp"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &Session{
		config: config,
		codec:  wire.NewCodec(),
		state:  StateDisconnected,
		logger: logger.With().
			Str("component", "transport").
			Str("address", net.JoinHostPort(config.Host, strconv.Itoa(config.Port))).
			Logger(),
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) SessionID() uint32 {
	return s.codec.SessionID()
}

// ReplyID returns the reply id of the last frame sent.
func (s *Session) ReplyID() uint32 {
	return s.codec.ReplyID()
}

func (s *Session) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// Connect dials the terminal and performs the handshake. The session id is
// taken from the session field of the reply header (bytes 8..12). On any
// failure the session stays disconnected.
func (s *Session) Connect() error {
	if s.state == StateConnected {
		return nil
	}
	s.state = StateConnecting

	conn, err := net.DialTimeout(s.config.Network, s.Address(), s.config.Timeout)
	if err != nil {
		s.state = StateDisconnected
		s.logger.Error().Err(err).Msg("Dial failed")
		return fmt.Errorf("%w: %v", domain.ErrDeviceUnreachable, err)
	}
	s.conn = conn
	s.codec.Reset()

	reply, err := s.roundTrip(wire.CmdConnect, nil)
	if err == nil && reply.Command == wire.CmdAckError {
		err = fmt.Errorf("%w: handshake refused", domain.ErrNoResponse)
	}
	if err != nil {
		s.close()
		s.logger.Error().Err(err).Msg("Handshake failed")
		return err
	}

	s.codec.SetSessionID(reply.SessionID)
	s.state = StateConnected
	s.logger.Info().Uint32("session_id", reply.SessionID).Msg("Connected to terminal")
	return nil
}

// SendCommand performs one write and one read bounded by the timeout. It
// never retries; a timeout, socket error or corrupt reply is returned as an
// ErrNoResponse error.
func (s *Session) SendCommand(cmd uint32, payload []byte) (*wire.Frame, error) {
	if s.state != StateConnected || s.conn == nil {
		return nil, ErrNotConnected
	}

	reply, err := s.roundTrip(cmd, payload)
	if err != nil {
		s.logger.Error().Err(err).Uint32("command", cmd).Msg("Command failed")
		return nil, err
	}
	return reply, nil
}

func (s *Session) roundTrip(cmd uint32, payload []byte) (*wire.Frame, error) {
	frame, err := s.codec.Encode(cmd, payload)
	if err != nil {
		return nil, err
	}

	if err := s.conn.SetDeadline(time.Now().Add(s.config.Timeout)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNoResponse, err)
	}
	if _, err := s.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("%w: write: %v", domain.ErrNoResponse, err)
	}

	buf := make([]byte, maxFrameSize)
	n, err := s.conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", domain.ErrNoResponse, err)
	}

	reply, ok := wire.Decode(buf[:n])
	if !ok {
		return nil, fmt.Errorf("%w: corrupt frame of %d bytes", domain.ErrNoResponse, n)
	}

	s.logger.Debug().
		Uint32("command", cmd).
		Uint32("reply_id", s.codec.ReplyID()).
		Uint32("answer", reply.Command).
		Int("payload", len(reply.Payload)).
		Msg("Round trip")
	return reply, nil
}

// Disconnect closes the socket. It is safe to call repeatedly and on a
// session that never connected.
func (s *Session) Disconnect() {
	if s.conn == nil {
		s.state = StateDisconnected
		return
	}

	if s.state == StateConnected {
		// the terminal does not always answer CMD_EXIT; do not wait for it
		if frame, err := s.codec.Encode(wire.CmdExit, nil); err == nil {
			s.conn.SetWriteDeadline(time.Now().Add(s.config.Timeout))
			s.conn.Write(frame)
		}
	}
	s.close()
	s.logger.Debug().Msg("Disconnected from terminal")
}

func (s *Session) close() {
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("Close failed")
		}
	}
	s.conn = nil
	s.state = StateDisconnected
}
