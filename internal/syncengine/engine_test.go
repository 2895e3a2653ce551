// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package syncengine

import (
	"context"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/internal/cloud"
	"github.com/attendux/syncagent/internal/connector"
	loggertesting "github.com/attendux/syncagent/internal/testing"
)

type engineSuite struct {
	testing.IsolationSuite

	clock   *testclock.Clock
	logger  *loggertesting.RecordingLogger
	metrics *Collector

	connector *MockConnector
	uploader  *MockUploader
}

var _ = gc.Suite(&engineSuite{})

var (
	deviceA = device.Device{ID: device.NumericID(1), Name: "A", IP: "10.0.0.1", Port: 4370}
	deviceB = device.Device{ID: device.NumericID(2), Name: "B", IP: "10.0.0.2", Port: 4370}
	deviceC = device.Device{Name: "C", IP: "10.0.0.3", Port: 4370}
)

func (s *engineSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC))
	s.logger = &loggertesting.RecordingLogger{}
	s.metrics = NewMetricsCollector()
}

func (s *engineSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.connector = NewMockConnector(ctrl)
	s.uploader = NewMockUploader(ctrl)
	return ctrl
}

func (s *engineSuite) newEngine(c *gc.C, conn connector.Connector) *Engine {
	engine, err := NewEngine(Config{
		Connector: conn,
		Clock:     s.clock,
		Logger:    s.logger,
		Metrics:   s.metrics,
		NewRunID:  func() string { return "run-1" },
	})
	c.Assert(err, jc.ErrorIsNil)
	return engine
}

// expectDevice sets up a successful connect returning n punches, and
// returns the conn so further expectations can be added.
func (s *engineSuite) expectDevice(ctrl *gomock.Controller, dev device.Device, n int) *MockConn {
	conn := NewMockConn(ctrl)
	s.connector.EXPECT().Connect(gomock.Any(), dev).Return(conn, nil)
	conn.EXPECT().Punches(gomock.Any()).Return(makePunches(n), nil)
	conn.EXPECT().Disconnect().Return(nil)
	return conn
}

func makePunches(n int) []attendance.Punch {
	punches := make([]attendance.Punch, n)
	for i := range punches {
		status := i % 2
		punches[i] = attendance.Punch{
			UserID:    "10" + string(rune('0'+i)),
			Timestamp: time.Date(2024, time.March, 5, 8, i, 0, 0, time.UTC),
			Status:    &status,
		}
	}
	return punches
}

func (s *engineSuite) TestValidate(c *gc.C) {
	cfg := Config{
		Connector: connector.Unavailable(),
		Clock:     s.clock,
		Logger:    s.logger,
		Metrics:   s.metrics,
	}
	c.Check(cfg.Validate(), jc.ErrorIsNil)

	bad := cfg
	bad.Connector = nil
	c.Check(bad.Validate(), gc.ErrorMatches, "nil Connector not valid")
	bad = cfg
	bad.Clock = nil
	c.Check(bad.Validate(), gc.ErrorMatches, "nil Clock not valid")
	bad = cfg
	bad.Metrics = nil
	c.Check(bad.Validate(), jc.ErrorIs, errors.NotValid)
}

func (s *engineSuite) TestRunNoDevices(c *gc.C) {
	defer s.setupMocks(c).Finish()

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, nil)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report, jc.DeepEquals, Report{
		RunID:     "run-1",
		Errors:    []string{},
		Timestamp: s.clock.Now(),
	})
}

func (s *engineSuite) TestRunUploadsEachDevice(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.expectDevice(ctrl, deviceA, 2)
	s.uploader.EXPECT().PushRecords(gomock.Any(), "run-1", attendance.NormalizeAll(makePunches(2), deviceA)).
		Return(cloud.PushResult{Success: true, Synced: 2}, nil)
	s.expectDevice(ctrl, deviceC, 3)
	s.uploader.EXPECT().PushRecords(gomock.Any(), "run-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, records []attendance.Record) (cloud.PushResult, error) {
			c.Check(records, gc.HasLen, 3)
			for _, r := range records {
				c.Check(r.DeviceID, gc.Equals, device.StringID("C"))
				c.Check(r.Type, gc.Equals, attendance.TypeAuto)
			}
			return cloud.PushResult{Success: true, Synced: 3}, nil
		})

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA, deviceC})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 5)
	c.Check(report.TotalSynced, gc.Equals, 5)
	c.Check(report.DevicesCount, gc.Equals, 2)
	c.Check(report.Errors, gc.HasLen, 0)
}

func (s *engineSuite) TestRunZeroPunchesSkipsUpload(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	// No PushRecords expectation: an upload would fail the test.
	s.expectDevice(ctrl, deviceA, 0)

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 0)
	c.Check(report.TotalSynced, gc.Equals, 0)
	c.Check(report.Errors, gc.HasLen, 0)
	c.Check(s.logger.Contains(loggo.INFO, "no new records on A"), jc.IsTrue)
}

func (s *engineSuite) TestRunClampsSynced(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.expectDevice(ctrl, deviceA, 3)
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cloud.PushResult{Success: true, Synced: 10}, nil)

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 3)
	c.Check(report.TotalSynced, gc.Equals, 3)
}

func (s *engineSuite) TestRunPartialSync(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.expectDevice(ctrl, deviceA, 4)
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cloud.PushResult{Success: true, Synced: 1}, nil)

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 4)
	c.Check(report.TotalSynced, gc.Equals, 1)
}

func (s *engineSuite) TestRunUploadAlwaysRejected(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	devices := []device.Device{deviceA, deviceB, deviceC}
	for _, dev := range devices {
		s.expectDevice(ctrl, dev, 5)
	}
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cloud.PushResult{}, errors.WithType(errors.New("boom"), cloud.ErrUploadRejected)).
		Times(3)

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, devices)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 0)
	c.Check(report.TotalSynced, gc.Equals, 0)
	c.Check(report.DevicesCount, gc.Equals, 3)
	c.Check(report.Errors, jc.DeepEquals, []string{
		"Failed to sync A",
		"Failed to sync B",
		"Failed to sync C",
	})
}

func (s *engineSuite) TestRunConnectFailureIsIsolated(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.expectDevice(ctrl, deviceA, 1)
	s.connector.EXPECT().Connect(gomock.Any(), deviceB).
		Return(nil, errors.WithType(errors.New("timed out"), connector.ErrDeviceUnreachable))
	s.expectDevice(ctrl, deviceC, 2)
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, records []attendance.Record) (cloud.PushResult, error) {
			return cloud.PushResult{Success: true, Synced: len(records)}, nil
		}).Times(2)

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA, deviceB, deviceC})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.TotalRecords, gc.Equals, 3)
	c.Check(report.TotalSynced, gc.Equals, 3)
	c.Check(report.DevicesCount, gc.Equals, 3)
	c.Assert(report.Errors, gc.HasLen, 1)
	c.Check(report.Errors[0], gc.Matches, "Error syncing B: .*timed out")
}

func (s *engineSuite) TestRunPunchesFailureDisconnects(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	conn := NewMockConn(ctrl)
	s.connector.EXPECT().Connect(gomock.Any(), deviceA).Return(conn, nil)
	conn.EXPECT().Punches(gomock.Any()).Return(nil, errors.WithType(errors.New("short read"), connector.ErrProtocol))
	conn.EXPECT().Disconnect().Return(errors.New("already closed"))

	report, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.Errors, gc.HasLen, 1)
	c.Check(report.Errors[0], gc.Matches, "Error syncing A: .*short read")
	c.Check(s.logger.Contains(loggo.WARNING, "disconnecting from A"), jc.IsTrue)
}

func (s *engineSuite) TestRunCapabilityUnavailable(c *gc.C) {
	defer s.setupMocks(c).Finish()

	report, err := s.newEngine(c, connector.Unavailable()).Run(context.Background(), s.uploader, []device.Device{deviceA, deviceB})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.Errors, jc.DeepEquals, []string{
		"Device library not available. Cannot sync A",
		"Device library not available. Cannot sync B",
	})
	c.Check(report.DevicesCount, gc.Equals, 2)
}

func (s *engineSuite) TestStartWhileRunning(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	entered := make(chan struct{})
	release := make(chan struct{})
	conn := NewMockConn(ctrl)
	s.connector.EXPECT().Connect(gomock.Any(), deviceA).DoAndReturn(
		func(context.Context, device.Device) (connector.Conn, error) {
			close(entered)
			<-release
			return conn, nil
		})
	conn.EXPECT().Punches(gomock.Any()).Return(nil, nil)
	conn.EXPECT().Disconnect().Return(nil)

	engine := s.newEngine(c, s.connector)
	reports, err := engine.Start(context.Background(), s.uploader, []device.Device{deviceA})
	c.Assert(err, jc.ErrorIsNil)

	select {
	case <-entered:
	case <-time.After(loggertesting.LongWait):
		c.Fatalf("sync did not start")
	}
	c.Check(engine.Running(), jc.IsTrue)

	_, err = engine.Start(context.Background(), s.uploader, []device.Device{deviceA})
	c.Check(err, jc.ErrorIs, ErrSyncInProgress)
	c.Check(s.logger.Contains(loggo.WARNING, "sync already in progress"), jc.IsTrue)

	close(release)
	select {
	case report, ok := <-reports:
		c.Assert(ok, jc.IsTrue)
		c.Check(report.DevicesCount, gc.Equals, 1)
	case <-time.After(loggertesting.LongWait):
		c.Fatalf("sync did not finish")
	}
	c.Check(engine.Running(), jc.IsFalse)

	// The channel is closed after the single report.
	_, ok := <-reports
	c.Check(ok, jc.IsFalse)
}

func (s *engineSuite) TestCancelStopsBetweenDevices(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := NewMockConn(ctrl)
	s.connector.EXPECT().Connect(gomock.Any(), deviceA).Return(conn, nil)
	conn.EXPECT().Punches(gomock.Any()).DoAndReturn(func(ctx context.Context) ([]attendance.Punch, error) {
		cancel()
		// The device being synced is not interrupted.
		c.Check(ctx.Err(), jc.ErrorIsNil)
		return makePunches(2), nil
	})
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cloud.PushResult{Success: true, Synced: 2}, nil)
	conn.EXPECT().Disconnect().Return(nil)

	report, err := s.newEngine(c, s.connector).Run(ctx, s.uploader, []device.Device{deviceA, deviceB})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(report.DevicesCount, gc.Equals, 2)
	c.Check(report.TotalRecords, gc.Equals, 2)
	c.Check(report.Errors, gc.HasLen, 0)
	c.Check(testutil.ToFloat64(s.metrics.runs.WithLabelValues(string(OutcomeAborted))), gc.Equals, float64(1))
}

func (s *engineSuite) TestMetrics(c *gc.C) {
	ctrl := s.setupMocks(c)
	defer ctrl.Finish()

	s.expectDevice(ctrl, deviceA, 3)
	s.uploader.EXPECT().PushRecords(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(cloud.PushResult{Success: true, Synced: 2}, nil)
	s.connector.EXPECT().Connect(gomock.Any(), deviceB).Return(nil, errors.New("no route"))

	_, err := s.newEngine(c, s.connector).Run(context.Background(), s.uploader, []device.Device{deviceA, deviceB})
	c.Assert(err, jc.ErrorIsNil)

	c.Check(testutil.ToFloat64(s.metrics.runs.WithLabelValues(string(OutcomeCompleted))), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(s.metrics.records), gc.Equals, float64(3))
	c.Check(testutil.ToFloat64(s.metrics.synced), gc.Equals, float64(2))
	c.Check(testutil.ToFloat64(s.metrics.deviceErrors), gc.Equals, float64(1))

	var m dto.Metric
	c.Assert(s.metrics.lastRun.Write(&m), jc.ErrorIsNil)
	c.Check(m.GetGauge().GetValue(), gc.Equals, float64(s.clock.Now().Unix()))
	c.Check(testutil.CollectAndCount(s.metrics), gc.Equals, 6)
}
