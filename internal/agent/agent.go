// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package agent ties the license session, the device registry, the sync
// engine and the auto-sync scheduler together behind the operations a
// user (or the local control API) can perform.
package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/core/license"
	"github.com/attendux/syncagent/internal/cloud"
	"github.com/attendux/syncagent/internal/settings"
	"github.com/attendux/syncagent/internal/syncengine"
	"github.com/attendux/syncagent/internal/worker/autosync"
)

const (
	// ErrNotConnected is returned by operations that need a verified
	// license.
	ErrNotConnected = errors.ConstError("not connected, enter a license key first")

	// ErrNoDevices is returned when a sync is requested for a tenant
	// without devices.
	ErrNoDevices = errors.ConstError("no devices to sync, load devices first")

	// ErrStopped is returned by operations requested after the agent
	// started shutting down.
	ErrStopped = errors.ConstError("agent stopped")
)

// CloudClient is the cloud API bound to one license key.
type CloudClient interface {
	Verify(ctx context.Context) cloud.VerifyResult
	ListDevices(ctx context.Context) []device.Device
	syncengine.Uploader
}

// SettingsStore holds the persisted settings.
type SettingsStore interface {
	Snapshot() settings.Settings
	Update(func(*settings.Settings) error) error
	autosync.State
}

// SyncEngine runs syncs, one at a time.
type SyncEngine interface {
	Start(ctx context.Context, uploader syncengine.Uploader, devices []device.Device) (<-chan syncengine.Report, error)
	Running() bool
}

// Logger is the logging interface used by the agent.
type Logger interface {
	Errorf(string, ...any)
	Warningf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
}

// Config holds the dependencies of an Agent.
type Config struct {
	Settings SettingsStore

	// NewClient returns a cloud client for a license key. It is called
	// once per Connect, so a tenant switch never reuses a client.
	NewClient func(licenseKey string) (CloudClient, error)

	Engine SyncEngine
	Clock  clock.Clock
	Logger Logger
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Settings == nil {
		return errors.NotValidf("nil Settings")
	}
	if c.NewClient == nil {
		return errors.NotValidf("nil NewClient")
	}
	if c.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Agent is a worker serving the control operations of the sync agent.
// Long operations run in the background and report through Results.
// Killing the agent stops auto-sync, cancels a running sync before its
// next device and waits for it.
type Agent struct {
	catacomb  catacomb.Catacomb
	cfg       Config
	scheduler *autosync.Scheduler
	results   chan Result

	mu         sync.Mutex
	stopping   bool
	wg         sync.WaitGroup
	generation uint64
	session    license.Session
	client     CloudClient
	registry   device.Registry
	lastReport *syncengine.Report
}

// NewAgent returns a disconnected agent holding the devices saved in
// the settings.
func NewAgent(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	snap := cfg.Settings.Snapshot()
	a := &Agent{
		cfg:      cfg,
		results:  make(chan Result, 16),
		registry: device.NewRegistry(snap.LicenseKey, snap.Devices),
	}
	scheduler, err := autosync.NewWorker(autosync.Config{
		Trigger: func() error { return a.startSync(TriggerAuto) },
		State:   cfg.Settings,
		Clock:   cfg.Clock,
		Logger:  cfg.Logger,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	a.scheduler = scheduler

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &a.catacomb,
		Work: a.loop,
		Init: []worker.Worker{scheduler},
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return a, nil
}

var _ worker.Worker = (*Agent)(nil)

// Kill is part of the worker.Worker interface.
func (a *Agent) Kill() {
	a.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *Agent) Wait() error {
	return a.catacomb.Wait()
}

// Results delivers the outcome of background operations. It is closed
// once the agent has stopped.
func (a *Agent) Results() <-chan Result {
	return a.results
}

func (a *Agent) loop() error {
	<-a.catacomb.Dying()

	a.mu.Lock()
	a.stopping = true
	a.mu.Unlock()

	a.wg.Wait()
	close(a.results)
	return a.catacomb.ErrDying()
}

// track registers a background operation, so that shutdown waits for
// it. The returned func must be called when the operation is done.
func (a *Agent) track() (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.catacomb.Dying():
		return nil, ErrStopped
	default:
	}
	if a.stopping {
		return nil, ErrStopped
	}
	a.wg.Add(1)
	return a.wg.Done, nil
}

func (a *Agent) publish(r Result) {
	select {
	case a.results <- r:
	case <-a.catacomb.Dying():
		a.cfg.Logger.Debugf("dropping %T, agent stopping", r)
	}
}

// Connect verifies key with the cloud in the background and publishes
// a ConnectResult. A verified key is saved and its devices are then
// refreshed. An empty key fails straight away.
func (a *Agent) Connect(key string) error {
	key, err := license.CleanKey(key)
	if err != nil {
		return errors.Trace(err)
	}
	client, err := a.cfg.NewClient(key)
	if err != nil {
		return errors.Trace(err)
	}
	done, err := a.track()
	if err != nil {
		return errors.Trace(err)
	}
	a.mu.Lock()
	a.generation++
	generation := a.generation
	a.mu.Unlock()

	a.cfg.Logger.Infof("verifying license %s", license.Redact(key))
	go func() {
		defer done()
		ctx := a.catacomb.Context(context.Background())
		if a.verify(ctx, generation, key, client) {
			a.refresh(ctx, generation, key, client)
		}
	}()
	return nil
}

// verify applies the outcome of checking key, unless another Connect
// has started since. Only the most recent Connect may change the
// session or the saved license.
func (a *Agent) verify(ctx context.Context, generation uint64, key string, client CloudClient) bool {
	result := client.Verify(ctx)
	a.mu.Lock()
	if a.generation != generation {
		a.mu.Unlock()
		a.cfg.Logger.Debugf("discarding superseded check of license %s", license.Redact(key))
		return false
	}
	if !result.Valid {
		a.session, a.client = license.Session{}, nil
		a.mu.Unlock()
		a.cfg.Logger.Errorf("Invalid license key or expired")
		a.publish(ConnectResult{Err: license.ErrInvalidLicense})
		return false
	}

	session := license.NewSession(key, result.Company)
	if !a.registry.BelongsTo(key) {
		a.registry = device.NewRegistry(key, nil)
	}
	a.session, a.client = session, client
	err := a.cfg.Settings.Update(func(s *settings.Settings) error {
		if s.LicenseKey != key {
			s.Devices = []device.Device{}
		}
		s.LicenseKey = key
		return nil
	})
	a.mu.Unlock()
	if err != nil {
		a.cfg.Logger.Errorf("saving license key: %v", err)
	}

	a.cfg.Logger.Infof("Connected as %s", result.Company.Name)
	a.publish(ConnectResult{Session: session})
	return true
}

// RefreshDevices reloads the tenant's devices from the cloud in the
// background and publishes a DevicesResult.
func (a *Agent) RefreshDevices() error {
	a.mu.Lock()
	session, client, generation := a.session, a.client, a.generation
	a.mu.Unlock()
	if !session.Valid() {
		return ErrNotConnected
	}
	done, err := a.track()
	if err != nil {
		return errors.Trace(err)
	}
	go func() {
		defer done()
		a.refresh(a.catacomb.Context(context.Background()), generation, session.Key(), client)
	}()
	return nil
}

func (a *Agent) refresh(ctx context.Context, generation uint64, key string, client CloudClient) {
	a.cfg.Logger.Infof("loading devices from cloud")
	devices := client.ListDevices(ctx)

	a.mu.Lock()
	if a.generation != generation || a.session.Key() != key {
		a.mu.Unlock()
		a.cfg.Logger.Debugf("discarding devices loaded for a previous license")
		return
	}
	if len(devices) == 0 {
		current := a.registry.Devices()
		a.mu.Unlock()
		a.cfg.Logger.Warningf("No devices found. Add devices in Attendux dashboard first.")
		a.publish(DevicesResult{Devices: current})
		return
	}
	a.registry = device.NewRegistry(key, devices)
	err := a.cfg.Settings.Update(func(s *settings.Settings) error {
		if s.LicenseKey != key {
			return errors.Errorf("license changed to %s", license.Redact(s.LicenseKey))
		}
		s.Devices = device.CopyAll(devices)
		return nil
	})
	a.mu.Unlock()
	if err != nil {
		a.cfg.Logger.Errorf("saving devices: %v", err)
	}

	a.cfg.Logger.Infof("Loaded %d devices for your company", len(devices))
	a.publish(DevicesResult{Devices: device.CopyAll(devices), Refreshed: true})
}

// SyncNow starts a sync of the tenant's devices in the background. It
// fails if there is no verified license, no devices, or a sync is
// already running.
func (a *Agent) SyncNow() error {
	return errors.Trace(a.startSync(TriggerManual))
}

func (a *Agent) startSync(trigger Trigger) error {
	a.mu.Lock()
	session, client, registry := a.session, a.client, a.registry
	a.mu.Unlock()

	if !session.Valid() {
		return ErrNotConnected
	}
	if !registry.BelongsTo(session.Key()) || registry.Len() == 0 {
		a.cfg.Logger.Errorf("No devices to sync. Load devices first.")
		return ErrNoDevices
	}

	done, err := a.track()
	if err != nil {
		return errors.Trace(err)
	}
	ctx := a.catacomb.Context(context.Background())
	reports, err := a.cfg.Engine.Start(ctx, client, registry.Devices())
	if err != nil {
		done()
		return errors.Trace(err)
	}
	go func() {
		defer done()
		a.finishSync(<-reports, trigger)
	}()
	return nil
}

func (a *Agent) finishSync(report syncengine.Report, trigger Trigger) {
	a.mu.Lock()
	a.lastReport = &report
	a.mu.Unlock()

	var notify bool
	err := a.cfg.Settings.Update(func(s *settings.Settings) error {
		s.LastSync = attendance.FormatTimestamp(report.Timestamp)
		notify = s.ShowNotifications
		return nil
	})
	if err != nil {
		a.cfg.Logger.Errorf("saving last sync time: %v", err)
	}

	result := SyncResult{Report: report, Trigger: trigger}
	if notify {
		result.Notification = notificationFor(report)
	}
	a.publish(result)
}

func notificationFor(report syncengine.Report) *Notification {
	if len(report.Errors) == 0 {
		return &Notification{
			Title:   "Sync Complete",
			Message: fmt.Sprintf("Successfully synced %d records from %d devices", report.TotalSynced, report.DevicesCount),
		}
	}
	return &Notification{
		Title:   "Sync Completed with Errors",
		Message: fmt.Sprintf("Synced %d records, but %d errors occurred", report.TotalSynced, len(report.Errors)),
		Warning: true,
	}
}

// StartAutoSync syncs now and then every intervalMinutes, and records
// that auto-sync should be resumed after a restart.
func (a *Agent) StartAutoSync(intervalMinutes int) error {
	if err := settings.ValidateSyncInterval(intervalMinutes); err != nil {
		return errors.Trace(err)
	}
	a.mu.Lock()
	connected := a.session.Valid()
	a.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	// The scheduler triggers the first sync before returning, and that
	// takes the agent lock.
	if err := a.scheduler.Start(intervalMinutes); err != nil {
		return errors.Trace(err)
	}
	err := a.cfg.Settings.Update(func(s *settings.Settings) error {
		s.SyncInterval = intervalMinutes
		return nil
	})
	if err != nil {
		a.cfg.Logger.Warningf("saving sync interval: %v", err)
	}
	return nil
}

// StopAutoSync switches auto-sync off. A sync already running is left
// to finish.
func (a *Agent) StopAutoSync() error {
	return errors.Trace(a.scheduler.Stop())
}

// ResumeAutoSync starts auto-sync with the saved interval if it was
// running when the agent last stopped. It reports whether auto-sync
// was started.
func (a *Agent) ResumeAutoSync() (bool, error) {
	snap := a.cfg.Settings.Snapshot()
	if !snap.AutoSyncWasRunning {
		return false, nil
	}
	a.cfg.Logger.Infof("resuming auto-sync every %d minutes", snap.SyncInterval)
	if err := a.StartAutoSync(snap.SyncInterval); err != nil {
		return false, errors.Annotate(err, "resuming auto-sync")
	}
	return true, nil
}

// Status describes the agent.
func (a *Agent) Status() Status {
	a.mu.Lock()
	status := Status{
		Connected: a.session.Valid(),
		Devices:   []device.Device{},
	}
	if status.Connected {
		company := a.session.Company()
		status.Company = &company
		status.LicenseKey = license.Redact(a.session.Key())
		if a.registry.BelongsTo(a.session.Key()) && a.registry.Len() > 0 {
			status.Devices = a.registry.Devices()
		}
	}
	a.mu.Unlock()

	status.Syncing = a.cfg.Engine.Running()
	status.AutoSync = a.scheduler.Status()
	status.LastSync = a.cfg.Settings.Snapshot().LastSync
	return status
}

// LastReport returns the report of the most recent sync since the
// agent started.
func (a *Agent) LastReport() (syncengine.Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastReport == nil {
		return syncengine.Report{}, false
	}
	return *a.lastReport, true
}

// Settings returns the current settings with the license key redacted.
func (a *Agent) Settings() settings.Settings {
	snap := a.cfg.Settings.Snapshot()
	snap.LicenseKey = license.Redact(snap.LicenseKey)
	return snap
}

// UpdatePreferences saves the fields set in p. A new sync interval
// takes effect the next time auto-sync is started.
func (a *Agent) UpdatePreferences(p Preferences) error {
	return errors.Trace(a.cfg.Settings.Update(p.apply))
}
