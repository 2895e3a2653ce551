// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package syncengine drives one sync run: it walks the devices of a
// tenant in order, reads their punches and uploads them, recording a
// failure per device without stopping the run.
package syncengine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/internal/cloud"
	"github.com/attendux/syncagent/internal/connector"
)

// ErrSyncInProgress is returned when a run is requested while another
// one has not finished.
const ErrSyncInProgress = errors.ConstError("sync already in progress")

// Outcome describes how a run ended.
type Outcome string

const (
	// OutcomeCompleted means every device was visited.
	OutcomeCompleted Outcome = "completed"

	// OutcomeAborted means the run was cancelled between devices.
	OutcomeAborted Outcome = "aborted"
)

// Uploader sends a batch of records to the cloud.
type Uploader interface {
	PushRecords(ctx context.Context, runID string, records []attendance.Record) (cloud.PushResult, error)
}

// Metrics receives a summary of each finished run.
type Metrics interface {
	ObserveRun(outcome Outcome, report Report, duration time.Duration)
}

// Logger is the logging interface used by the engine.
type Logger interface {
	Errorf(string, ...any)
	Warningf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
}

// Report summarises a run.
type Report struct {
	RunID        string    `json:"run_id"`
	TotalSynced  int       `json:"total_synced"`
	TotalRecords int       `json:"total_records"`
	DevicesCount int       `json:"devices_count"`
	Errors       []string  `json:"errors"`
	Timestamp    time.Time `json:"timestamp"`
}

// Config holds the dependencies of an Engine.
type Config struct {
	Connector connector.Connector
	Clock     clock.Clock
	Logger    Logger
	Metrics   Metrics

	// NewRunID defaults to a random UUID.
	NewRunID func() string
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Connector == nil {
		return errors.NotValidf("nil Connector")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	return nil
}

// Engine runs syncs, at most one at a time. A single Engine must serve
// every tenant the agent switches between, so that the guard holds
// across tenant changes.
type Engine struct {
	cfg     Config
	running atomic.Bool
}

// NewEngine returns an idle engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = uuid.NewString
	}
	return &Engine{cfg: cfg}, nil
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Start begins a run over devices in the background, uploading through
// uploader. The returned channel delivers the report once and is then
// closed. If a run is already in progress nothing happens and
// ErrSyncInProgress is returned.
//
// Cancelling ctx stops the run before the next device; the device
// being synced at that moment is finished first.
func (e *Engine) Start(ctx context.Context, uploader Uploader, devices []device.Device) (<-chan Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		e.cfg.Logger.Warningf("sync already in progress")
		return nil, ErrSyncInProgress
	}
	devices = append([]device.Device(nil), devices...)
	out := make(chan Report, 1)
	go func() {
		defer close(out)
		report := e.run(ctx, uploader, devices)
		e.running.Store(false)
		out <- report
	}()
	return out, nil
}

// Run is Start followed by waiting for the report.
func (e *Engine) Run(ctx context.Context, uploader Uploader, devices []device.Device) (Report, error) {
	reports, err := e.Start(ctx, uploader, devices)
	if err != nil {
		return Report{}, errors.Trace(err)
	}
	return <-reports, nil
}

func (e *Engine) run(ctx context.Context, uploader Uploader, devices []device.Device) Report {
	started := e.cfg.Clock.Now()
	report := Report{
		RunID:        e.cfg.NewRunID(),
		DevicesCount: len(devices),
		Errors:       []string{},
	}
	outcome := OutcomeCompleted
	e.cfg.Logger.Infof("starting sync %s of %d devices", report.RunID, len(devices))

	// Device I/O is bounded by its own timeouts and is never interrupted
	// half way; cancellation only takes effect between devices.
	deviceCtx := context.WithoutCancel(ctx)
	for i, dev := range devices {
		if ctx.Err() != nil {
			e.cfg.Logger.Infof("sync %s cancelled after %d of %d devices", report.RunID, i, len(devices))
			outcome = OutcomeAborted
			break
		}
		e.cfg.Logger.Infof("syncing device %d/%d: %s", i+1, len(devices), dev)

		synced, records, err := e.syncDevice(deviceCtx, uploader, report.RunID, dev)
		if err != nil {
			msg := failureMessage(dev, err)
			e.cfg.Logger.Errorf("%s", msg)
			e.cfg.Logger.Debugf("sync %s device %s: %s", report.RunID, dev.Name, errors.ErrorStack(err))
			report.Errors = append(report.Errors, msg)
			continue
		}
		report.TotalRecords += records
		report.TotalSynced += synced
	}

	now := e.cfg.Clock.Now()
	report.Timestamp = now
	e.cfg.Metrics.ObserveRun(outcome, report, now.Sub(started))

	switch {
	case outcome == OutcomeAborted:
		e.cfg.Logger.Warningf("sync %s aborted: %d records synced", report.RunID, report.TotalSynced)
	case len(report.Errors) == 0:
		e.cfg.Logger.Infof("sync %s completed: %d records synced", report.RunID, report.TotalSynced)
	default:
		e.cfg.Logger.Warningf("sync %s completed with %d errors", report.RunID, len(report.Errors))
	}
	return report
}

// syncDevice reads every punch from dev and uploads them as one batch.
// It returns the number of records the cloud accepted and the batch
// size. The connection is always closed once opened.
func (e *Engine) syncDevice(ctx context.Context, uploader Uploader, runID string, dev device.Device) (int, int, error) {
	conn, err := e.cfg.Connector.Connect(ctx, dev)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	defer func() {
		if derr := conn.Disconnect(); derr != nil {
			e.cfg.Logger.Warningf("disconnecting from %s: %v", dev, derr)
		}
	}()

	punches, err := conn.Punches(ctx)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	e.cfg.Logger.Infof("found %d records on %s", len(punches), dev.Name)
	if len(punches) == 0 {
		e.cfg.Logger.Infof("no new records on %s", dev.Name)
		return 0, 0, nil
	}

	records := attendance.NormalizeAll(punches, dev)
	result, err := uploader.PushRecords(ctx, runID, records)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	synced := min(max(result.Synced, 0), len(records))
	e.cfg.Logger.Infof("synced %d/%d records from %s", synced, len(records), dev.Name)
	return synced, len(records), nil
}

// failureMessage renders the per-device line shown to the user.
func failureMessage(dev device.Device, err error) string {
	switch {
	case errors.Is(err, cloud.ErrUploadRejected):
		return fmt.Sprintf("Failed to sync %s", dev.Name)
	case errors.Is(err, connector.ErrCapabilityUnavailable):
		return fmt.Sprintf("Device library not available. Cannot sync %s", dev.Name)
	default:
		return fmt.Sprintf("Error syncing %s: %v", dev.Name, err)
	}
}
