// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package zk

import (
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

// Command codes understood by ZKTeco terminals.
const (
	CmdConnect       uint16 = 1000
	CmdExit          uint16 = 1001
	CmdAuth          uint16 = 1102
	CmdGetFreeSizes  uint16 = 50
	CmdAttLogRRQ     uint16 = 13
	CmdPrepareData   uint16 = 1500
	CmdData          uint16 = 1501
	CmdFreeData      uint16 = 1502
	CmdPrepareBuffer uint16 = 1503
	CmdReadBuffer    uint16 = 1504

	CmdAckOK     uint16 = 2000
	CmdAckError  uint16 = 2001
	CmdAckData   uint16 = 2002
	CmdAckUnauth uint16 = 2005
)

const (
	ushrtMax = 65535

	// TCP frames are prefixed with two magic words and the length of
	// the packet that follows.
	tcpMagic1 uint16 = 0x5050
	tcpMagic2 uint16 = 0x7282

	headerSize = 8
	topSize    = 8

	// maxChunk is the largest buffer slice requested per READ_BUFFER
	// command over TCP.
	maxChunk = 0xFFC0

	// maxFrame bounds the memory a misbehaving terminal can make us
	// allocate for a single frame or a staged buffer.
	maxFrame = 16 << 20
)

// packet is one command or reply exchanged with a terminal.
type packet struct {
	Command   uint16
	Checksum  uint16
	SessionID uint16
	ReplyID   uint16
	Data      []byte
}

// ok reports whether the terminal acknowledged the command.
func (p packet) ok() bool {
	switch p.Command {
	case CmdAckOK, CmdPrepareData, CmdData:
		return true
	}
	return false
}

// marshal encodes the packet header and payload, computing the checksum.
func (p packet) marshal() []byte {
	buf := make([]byte, headerSize+len(p.Data))
	binary.LittleEndian.PutUint16(buf[0:], p.Command)
	binary.LittleEndian.PutUint16(buf[4:], p.SessionID)
	binary.LittleEndian.PutUint16(buf[6:], p.ReplyID)
	copy(buf[headerSize:], p.Data)
	binary.LittleEndian.PutUint16(buf[2:], checksum(buf))
	return buf
}

func unmarshalPacket(buf []byte) (packet, error) {
	if len(buf) < headerSize {
		return packet{}, errors.Errorf("short packet: %d bytes", len(buf))
	}
	return packet{
		Command:   binary.LittleEndian.Uint16(buf[0:]),
		Checksum:  binary.LittleEndian.Uint16(buf[2:]),
		SessionID: binary.LittleEndian.Uint16(buf[4:]),
		ReplyID:   binary.LittleEndian.Uint16(buf[6:]),
		Data:      buf[headerSize:],
	}, nil
}

// checksum is the ones-complement style sum the terminal firmware
// uses, computed over the header (with a zero checksum field) and
// payload.
func checksum(buf []byte) uint16 {
	var sum int64
	n := len(buf)
	i := 0
	for ; n > 1; n -= 2 {
		sum += int64(binary.LittleEndian.Uint16(buf[i:]))
		i += 2
		if sum > ushrtMax {
			sum -= ushrtMax
		}
	}
	if n > 0 {
		sum += int64(buf[len(buf)-1])
	}
	for sum > ushrtMax {
		sum -= ushrtMax
	}
	sum = ^sum
	for sum < 0 {
		sum += ushrtMax
	}
	return uint16(sum)
}

// writeFrame writes p with its TCP prefix.
func writeFrame(w io.Writer, p packet) error {
	body := p.marshal()
	frame := make([]byte, topSize+len(body))
	binary.LittleEndian.PutUint16(frame[0:], tcpMagic1)
	binary.LittleEndian.PutUint16(frame[2:], tcpMagic2)
	binary.LittleEndian.PutUint32(frame[4:], uint32(len(body)))
	copy(frame[topSize:], body)
	_, err := w.Write(frame)
	return errors.Trace(err)
}

// readFrame reads one TCP-prefixed packet.
func readFrame(r io.Reader) (packet, error) {
	var top [topSize]byte
	if _, err := io.ReadFull(r, top[:]); err != nil {
		return packet{}, errors.Trace(err)
	}
	if binary.LittleEndian.Uint16(top[0:]) != tcpMagic1 || binary.LittleEndian.Uint16(top[2:]) != tcpMagic2 {
		return packet{}, errors.Errorf("bad frame prefix % x", top[:4])
	}
	length := binary.LittleEndian.Uint32(top[4:])
	if length < headerSize || length > maxFrame {
		return packet{}, errors.Errorf("bad frame length %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return packet{}, errors.Trace(err)
	}
	return unmarshalPacket(body)
}
