// Package wire implements the raw terminal frame format: a 16-byte header of
// four little-endian u32 fields (command, checksum, session id, reply id)
// followed by the payload.
package wire

import (
	"fmt"

	binarypack "github.com/canhlinh/go-binary-pack"
)

// Command codes.
const (
	CmdConnect   uint32 = 1000
	CmdExit      uint32 = 1001
	CmdDevice    uint32 = 11
	CmdUserCount uint32 = 50
	CmdUserList  uint32 = 9
	CmdAttLog    uint32 = 13
	CmdAckOK     uint32 = 2000
	CmdAckError  uint32 = 2001
)

// HeaderSize is the length of the fixed frame header.
const HeaderSize = 16

var headerFormat = []string{"I", "I", "I", "I"}

// Frame is a decoded, checksum-verified frame.
type Frame struct {
	Command   uint32
	Checksum  uint32
	SessionID uint32
	ReplyID   uint32
	Payload   []byte
}

// Codec encodes frames for one session. The reply id is instance scoped and
// increments on every Encode.
type Codec struct {
	sessionID uint32
	replyID   uint32
}

func NewCodec() *Codec {
	return &Codec{}
}

// SetSessionID stores the id the terminal assigned during the handshake.
func (c *Codec) SetSessionID(id uint32) {
	c.sessionID = id
}

func (c *Codec) SessionID() uint32 {
	return c.sessionID
}

// ReplyID returns the reply id of the last encoded frame.
func (c *Codec) ReplyID() uint32 {
	return c.replyID
}

// Reset returns the codec to its pre-handshake state.
func (c *Codec) Reset() {
	c.sessionID = 0
	c.replyID = 0
}

// Encode builds the next frame of the session for cmd.
func (c *Codec) Encode(cmd uint32, payload []byte) ([]byte, error) {
	c.replyID++
	return Build(cmd, c.sessionID, c.replyID, payload)
}

// Build lays out a frame with explicit ids. The checksum is the u32 sum of
// every frame byte except the checksum field.
func Build(cmd, sessionID, replyID uint32, payload []byte) ([]byte, error) {
	header, err := packHeader(cmd, 0, sessionID, replyID)
	if err != nil {
		return nil, err
	}
	frame := append(header, payload...)

	header, err = packHeader(cmd, Checksum(frame), sessionID, replyID)
	if err != nil {
		return nil, err
	}
	copy(frame, header)
	return frame, nil
}

// Decode parses and verifies frame. It reports false for a short frame or a
// checksum mismatch; corrupt frames are meant to be discarded.
func Decode(frame []byte) (*Frame, bool) {
	if len(frame) < HeaderSize {
		return nil, false
	}

	fields, err := (&binarypack.BinaryPack{}).UnPack(headerFormat, frame[:HeaderSize])
	if err != nil {
		return nil, false
	}

	f := &Frame{
		Command:   u32(fields[0]),
		Checksum:  u32(fields[1]),
		SessionID: u32(fields[2]),
		ReplyID:   u32(fields[3]),
		Payload:   frame[HeaderSize:],
	}
	if Checksum(frame) != f.Checksum {
		return nil, false
	}
	return f, true
}

// Checksum sums every byte of frame outside the checksum field (bytes 4..8).
func Checksum(frame []byte) uint32 {
	var sum uint32
	for i, b := range frame {
		if i >= 4 && i < 8 {
			continue
		}
		sum += uint32(b)
	}
	return sum
}

func packHeader(cmd, checksum, sessionID, replyID uint32) ([]byte, error) {
	header, err := (&binarypack.BinaryPack{}).Pack(headerFormat, []interface{}{
		int(cmd), int(checksum), int(sessionID), int(replyID),
	})
	if err != nil {
		return nil, fmt.Errorf("pack header: %w", err)
	}
	return header, nil
}

func u32(v interface{}) uint32 {
	n, _ := v.(int)
	return uint32(n)
}
