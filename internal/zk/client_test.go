// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package zk

import (
	"context"
	"net"
	"time"

	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	loggertesting "github.com/attendux/syncagent/internal/testing"
)

type clientSuite struct {
	testing.IsolationSuite

	terminal *fakeTerminal
}

var _ = gc.Suite(&clientSuite{})

func (s *clientSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.terminal = newFakeTerminal(c)
	s.AddCleanup(func(*gc.C) { s.terminal.Close() })
}

func (s *clientSuite) config(c *gc.C) Config {
	return Config{
		Address: s.terminal.Addr(),
		Timeout: 2 * time.Second,
		Logger:  loggertesting.NewCheckLogger(c),
	}
}

func (s *clientSuite) dial(c *gc.C, cfg Config) *Client {
	client, err := Dial(context.Background(), cfg)
	c.Assert(err, jc.ErrorIsNil)
	return client
}

func (s *clientSuite) TestValidate(c *gc.C) {
	cfg := s.config(c)
	cfg.Address = ""
	c.Check(cfg.Validate(), gc.ErrorMatches, "empty Address not valid")

	cfg = s.config(c)
	cfg.Logger = nil
	c.Check(cfg.Validate(), gc.ErrorMatches, "nil Logger not valid")
}

func (s *clientSuite) TestDialOpensSession(c *gc.C) {
	client := s.dial(c, s.config(c))
	c.Check(client.sessionID, gc.Equals, uint16(fakeSessionID))
	c.Assert(client.Close(), jc.ErrorIsNil)

	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{CmdConnect, CmdExit})
	c.Check(s.terminal.BadChecksums(), gc.Equals, 0)
}

func (s *clientSuite) TestCloseIsIdempotent(c *gc.C) {
	client := s.dial(c, s.config(c))
	c.Assert(client.Close(), jc.ErrorIsNil)
	c.Assert(client.Close(), jc.ErrorIsNil)
	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{CmdConnect, CmdExit})
}

func (s *clientSuite) TestDialAuthenticates(c *gc.C) {
	s.terminal.Update(func(f *fakeTerminal) { f.password = 123456 })
	cfg := s.config(c)
	cfg.Password = 123456

	client := s.dial(c, cfg)
	defer client.Close()
	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{CmdConnect, CmdAuth})
}

func (s *clientSuite) TestDialWrongPassword(c *gc.C) {
	s.terminal.Update(func(f *fakeTerminal) { f.password = 123456 })
	cfg := s.config(c)
	cfg.Password = 1

	_, err := Dial(context.Background(), cfg)
	c.Check(err, jc.ErrorIs, ErrUnauthorized)
}

func (s *clientSuite) TestDialUnreachable(c *gc.C) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, jc.ErrorIsNil)
	addr := l.Addr().String()
	c.Assert(l.Close(), jc.ErrorIsNil)

	cfg := s.config(c)
	cfg.Address = addr
	_, err = Dial(context.Background(), cfg)
	c.Check(err, jc.ErrorIs, ErrUnreachable)
}

func (s *clientSuite) TestDialSilentTerminalIsUnreachable(c *gc.C) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	c.Assert(err, jc.ErrorIsNil)
	defer l.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		<-done
		conn.Close()
	}()

	cfg := s.config(c)
	cfg.Address = l.Addr().String()
	cfg.Timeout = 100 * time.Millisecond
	_, err = Dial(context.Background(), cfg)
	c.Check(err, jc.ErrorIs, ErrUnreachable)
}

func (s *clientSuite) TestAttendanceEmpty(c *gc.C) {
	client := s.dial(c, s.config(c))
	defer client.Close()

	records, err := client.Attendance(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, gc.HasLen, 0)
	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{CmdConnect, CmdGetFreeSizes})
}

func (s *clientSuite) TestAttendanceInline(c *gc.C) {
	ts := time.Date(2024, time.March, 5, 8, 30, 15, 0, time.Local)
	s.terminal.Update(func(f *fakeTerminal) {
		f.inline = true
		f.count = 2
		f.log = attendanceLog(
			record40(1, "1024", 1, ts, 0),
			record40(2, "2048", 15, ts.Add(time.Hour), 1),
		)
	})

	client := s.dial(c, s.config(c))
	defer client.Close()

	records, err := client.Attendance(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(records, jc.DeepEquals, []Attendance{
		{UID: 1, UserID: "1024", Timestamp: ts, Status: 1, Punch: 0},
		{UID: 2, UserID: "2048", Timestamp: ts.Add(time.Hour), Status: 15, Punch: 1},
	})
}

func (s *clientSuite) TestAttendanceBuffered(c *gc.C) {
	ts := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.Local)
	var recs [][]byte
	for i := 0; i < 1700; i++ {
		recs = append(recs, record40(uint16(i), "7", 1, ts.Add(time.Duration(i)*time.Second), 0))
	}
	s.terminal.Update(func(f *fakeTerminal) {
		f.count = len(recs)
		f.log = attendanceLog(recs...)
	})

	client := s.dial(c, s.config(c))
	defer client.Close()

	records, err := client.Attendance(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(records, gc.HasLen, 1700)
	c.Check(records[0].Timestamp, gc.Equals, ts)
	c.Check(records[1699].UID, gc.Equals, 1699)
	c.Check(records[1699].Timestamp, gc.Equals, ts.Add(1699*time.Second))

	// 68004 bytes needs two READ_BUFFER chunks.
	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{
		CmdConnect, CmdGetFreeSizes, CmdPrepareBuffer,
		CmdReadBuffer, CmdReadBuffer, CmdFreeData,
	})
	c.Check(s.terminal.BadChecksums(), gc.Equals, 0)
}

func (s *clientSuite) TestAttendanceRejectsOversizedBuffer(c *gc.C) {
	ts := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.Local)
	s.terminal.Update(func(f *fakeTerminal) {
		f.count = 1
		f.log = attendanceLog(record40(1, "7", 1, ts, 0))
		f.staged = 0xFFFFFFFF
	})

	client := s.dial(c, s.config(c))
	defer client.Close()

	_, err := client.Attendance(context.Background())
	c.Assert(err, jc.ErrorIs, ErrUnexpectedReply)
	c.Check(err, gc.ErrorMatches, `.*terminal staged 4294967295 bytes.*`)
	c.Check(s.terminal.Commands(), jc.DeepEquals, []uint16{
		CmdConnect, CmdGetFreeSizes, CmdPrepareBuffer,
	})
}

func (s *clientSuite) TestAttendanceRejectsOversizedChunk(c *gc.C) {
	ts := time.Date(2024, time.March, 5, 8, 0, 0, 0, time.Local)
	s.terminal.Update(func(f *fakeTerminal) {
		f.count = 1
		f.log = attendanceLog(record40(1, "7", 1, ts, 0))
		f.prepared = 0xFFFFFFF0
	})

	client := s.dial(c, s.config(c))
	defer client.Close()

	_, err := client.Attendance(context.Background())
	c.Assert(err, jc.ErrorIs, ErrUnexpectedReply)
	c.Check(err, gc.ErrorMatches, `.*terminal offered 4294967280 bytes for a 44 byte chunk.*`)
}
