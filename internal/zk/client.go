// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package zk speaks the TCP variant of the ZKTeco terminal protocol,
// enough to authenticate and download the attendance log.
package zk

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
)

const (
	// ErrUnreachable is returned when a TCP session to the terminal
	// cannot be established.
	ErrUnreachable = errors.ConstError("terminal unreachable")

	// ErrUnauthorized is returned when the terminal rejects the
	// communication key.
	ErrUnauthorized = errors.ConstError("terminal rejected communication key")

	// ErrUnexpectedReply is returned when the terminal answers with a
	// command the protocol does not allow at that point.
	ErrUnexpectedReply = errors.ConstError("unexpected terminal reply")
)

// DefaultTimeout is applied to the dial and to every exchange when the
// config does not set one.
const DefaultTimeout = 5 * time.Second

// Logger is the subset of loggo.Logger used by the client.
type Logger interface {
	Debugf(string, ...any)
	Tracef(string, ...any)
}

// Config holds what is needed to open a session with a terminal.
type Config struct {
	// Address is the host:port of the terminal.
	Address string

	// Password is the numeric communication key configured on the
	// terminal. Zero means no key.
	Password uint32

	// Timeout bounds the dial and each request/reply exchange.
	Timeout time.Duration

	// Dial opens the network connection. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	Logger Logger
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Address == "" {
		return errors.NotValidf("empty Address")
	}
	if c.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Client is an open session with a terminal. It is not safe to issue
// concurrent requests; the mutex only serialises Close against them.
type Client struct {
	cfg  Config
	conn net.Conn

	mu        sync.Mutex
	sessionID uint16
	replyID   uint16
	closed    bool
}

// Dial connects to the terminal and opens a protocol session,
// authenticating with the communication key when the terminal asks
// for one.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	dial := cfg.Dial
	if dial == nil {
		dialer := &net.Dialer{Timeout: cfg.Timeout}
		dial = dialer.DialContext
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	conn, err := dial(dialCtx, "tcp", cfg.Address)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "dialing %s", cfg.Address), ErrUnreachable)
	}

	c := &Client{
		cfg:     cfg,
		conn:    conn,
		replyID: ushrtMax - 1,
	}
	if err := c.connect(ctx); err != nil {
		_ = conn.Close()
		return nil, errors.Trace(err)
	}
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	reply, err := c.exchange(ctx, CmdConnect, nil)
	if err != nil {
		// A terminal that accepts TCP but never answers the handshake
		// is as good as unreachable.
		return errors.WithType(errors.Annotate(err, "opening session"), ErrUnreachable)
	}
	c.sessionID = reply.SessionID
	c.cfg.Logger.Debugf("session %d opened with %s", c.sessionID, c.cfg.Address)

	switch reply.Command {
	case CmdAckOK:
		return nil
	case CmdAckUnauth:
		key := makeCommKey(c.cfg.Password, c.sessionID, 50)
		reply, err = c.exchange(ctx, CmdAuth, key)
		if err != nil {
			return errors.Annotate(err, "authenticating")
		}
		if !reply.ok() {
			return errors.Trace(ErrUnauthorized)
		}
		return nil
	default:
		return errors.Annotatef(ErrUnexpectedReply, "connect answered with %d", reply.Command)
	}
}

// RecordCount returns the number of attendance records stored on the
// terminal.
func (c *Client) RecordCount(ctx context.Context) (int, error) {
	reply, err := c.exchange(ctx, CmdGetFreeSizes, nil)
	if err != nil {
		return 0, errors.Annotate(err, "reading sizes")
	}
	if !reply.ok() {
		return 0, errors.Annotatef(ErrUnexpectedReply, "sizes answered with %d", reply.Command)
	}
	// The reply is a table of 20 int32 counters; the attendance record
	// count is the ninth.
	if len(reply.Data) < 80 {
		return 0, nil
	}
	return int(int32(binary.LittleEndian.Uint32(reply.Data[8*4:]))), nil
}

// Attendance downloads the whole attendance log.
func (c *Client) Attendance(ctx context.Context) ([]Attendance, error) {
	records, err := c.RecordCount(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if records == 0 {
		return nil, nil
	}
	data, err := c.readWithBuffer(ctx, CmdAttLogRRQ)
	if err != nil {
		return nil, errors.Annotate(err, "reading attendance log")
	}
	result, err := decodeAttendance(data, records)
	if err != nil {
		return nil, errors.Trace(err)
	}
	c.cfg.Logger.Debugf("read %d attendance records from %s", len(result), c.cfg.Address)
	return result, nil
}

// readWithBuffer asks the terminal to stage the output of command and
// then reads it back, in chunks if it is too large for one reply.
func (c *Client) readWithBuffer(ctx context.Context, command uint16) ([]byte, error) {
	// <bhii: type 1, command, fct 0, ext 0
	req := make([]byte, 11)
	req[0] = 1
	binary.LittleEndian.PutUint16(req[1:], command)
	reply, err := c.exchange(ctx, CmdPrepareBuffer, req)
	if err != nil {
		return nil, errors.Trace(err)
	}

	switch reply.Command {
	case CmdData:
		return reply.Data, nil
	case CmdAckOK:
	default:
		return nil, errors.Annotatef(ErrUnexpectedReply, "prepare buffer answered with %d", reply.Command)
	}
	if len(reply.Data) < 5 {
		return nil, errors.Annotatef(ErrUnexpectedReply, "prepare buffer reply too short")
	}
	size := int(binary.LittleEndian.Uint32(reply.Data[1:]))
	if size < 0 || size > maxFrame {
		return nil, errors.Annotatef(ErrUnexpectedReply, "terminal staged %d bytes", size)
	}
	c.cfg.Logger.Tracef("terminal staged %d bytes for command %d", size, command)

	data := make([]byte, 0, size)
	for start := 0; start < size; start += maxChunk {
		n := min(maxChunk, size-start)
		chunk, err := c.readChunk(ctx, start, n)
		if err != nil {
			return nil, errors.Annotatef(err, "reading chunk at %d", start)
		}
		data = append(data, chunk...)
	}
	if err := c.freeData(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	return data, nil
}

func (c *Client) readChunk(ctx context.Context, start, size int) ([]byte, error) {
	req := make([]byte, 8)
	binary.LittleEndian.PutUint32(req[0:], uint32(int32(start)))
	binary.LittleEndian.PutUint32(req[4:], uint32(int32(size)))
	reply, err := c.exchange(ctx, CmdReadBuffer, req)
	if err != nil {
		return nil, errors.Trace(err)
	}

	switch reply.Command {
	case CmdData:
		return reply.Data, nil
	case CmdPrepareData:
	default:
		return nil, errors.Annotatef(ErrUnexpectedReply, "read buffer answered with %d", reply.Command)
	}
	if len(reply.Data) < 4 {
		return nil, errors.Annotatef(ErrUnexpectedReply, "prepare data reply too short")
	}
	want := int(binary.LittleEndian.Uint32(reply.Data))
	if want < 0 || want > size {
		return nil, errors.Annotatef(ErrUnexpectedReply, "terminal offered %d bytes for a %d byte chunk", want, size)
	}

	data := make([]byte, 0, want)
	for len(data) < want {
		frame, err := c.receive(ctx)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if frame.Command != CmdData {
			return nil, errors.Annotatef(ErrUnexpectedReply, "data stream interrupted by %d", frame.Command)
		}
		data = append(data, frame.Data...)
	}
	ack, err := c.receive(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if ack.Command != CmdAckOK {
		return nil, errors.Annotatef(ErrUnexpectedReply, "data stream ended with %d", ack.Command)
	}
	return data, nil
}

func (c *Client) freeData(ctx context.Context) error {
	reply, err := c.exchange(ctx, CmdFreeData, nil)
	if err != nil {
		return errors.Annotate(err, "freeing terminal buffer")
	}
	if !reply.ok() {
		return errors.Annotatef(ErrUnexpectedReply, "free data answered with %d", reply.Command)
	}
	return nil
}

// Close ends the protocol session and closes the connection. It is
// safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// The terminal may drop the connection without answering; only
	// the close error matters.
	if _, err := c.exchange(context.Background(), CmdExit, nil); err != nil {
		c.cfg.Logger.Debugf("ending session with %s: %v", c.cfg.Address, err)
	}
	return errors.Trace(c.conn.Close())
}

// exchange sends one command and waits for the reply.
func (c *Client) exchange(ctx context.Context, command uint16, data []byte) (packet, error) {
	c.replyID++
	if c.replyID >= ushrtMax {
		c.replyID -= ushrtMax
	}
	req := packet{
		Command:   command,
		SessionID: c.sessionID,
		ReplyID:   c.replyID,
		Data:      data,
	}
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return packet{}, errors.Trace(err)
	}
	c.cfg.Logger.Tracef("-> %d reply=%d len=%d", command, req.ReplyID, len(data))
	if err := writeFrame(c.conn, req); err != nil {
		return packet{}, errors.Annotatef(err, "sending command %d", command)
	}
	reply, err := readFrame(c.conn)
	if err != nil {
		return packet{}, errors.Annotatef(err, "reading reply to command %d", command)
	}
	c.replyID = reply.ReplyID
	c.cfg.Logger.Tracef("<- %d reply=%d len=%d", reply.Command, reply.ReplyID, len(reply.Data))
	return reply, nil
}

// receive reads a further frame of a multi-frame reply.
func (c *Client) receive(ctx context.Context) (packet, error) {
	if err := c.conn.SetDeadline(c.deadline(ctx)); err != nil {
		return packet{}, errors.Trace(err)
	}
	frame, err := readFrame(c.conn)
	return frame, errors.Trace(err)
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
