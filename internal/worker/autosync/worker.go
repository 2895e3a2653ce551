// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package autosync provides the worker that triggers a sync at a fixed
// interval while auto-sync is switched on.
package autosync

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
)

// Interval bounds, in minutes.
const (
	MinIntervalMinutes = 5
	MaxIntervalMinutes = 120
)

// ErrStopped is returned by calls made after the worker has died.
const ErrStopped = errors.ConstError("auto-sync scheduler stopped")

// State persists whether auto-sync was switched on, so that it can be
// resumed after a restart.
type State interface {
	SetAutoSyncRunning(bool) error
}

// Logger is the logging interface used by the worker.
type Logger interface {
	Warningf(string, ...any)
	Infof(string, ...any)
	Debugf(string, ...any)
}

// Config holds the dependencies of the scheduler.
type Config struct {
	// Trigger starts a sync without waiting for it. An error means the
	// fire was dropped, typically because a sync is still running.
	Trigger func() error

	State  State
	Clock  clock.Clock
	Logger Logger
}

// Validate checks the config.
func (config Config) Validate() error {
	if config.Trigger == nil {
		return errors.NotValidf("nil Trigger")
	}
	if config.State == nil {
		return errors.NotValidf("nil State")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Status describes the scheduler.
type Status struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	NextFire time.Time     `json:"next_fire,omitempty"`
}

type requestKind int

const (
	startRequest requestKind = iota
	stopRequest
	statusRequest
)

type request struct {
	kind     requestKind
	interval time.Duration
	reply    chan response
}

type response struct {
	status Status
	err    error
}

// Scheduler is a worker that calls Trigger once when started and then
// every interval until stopped. Killing the worker disarms it without
// touching the persisted state.
type Scheduler struct {
	catacomb catacomb.Catacomb
	cfg      Config
	requests chan request
}

// NewWorker returns a disarmed scheduler.
func NewWorker(cfg Config) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Scheduler{
		cfg:      cfg,
		requests: make(chan request),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

var _ worker.Worker = (*Scheduler)(nil)

// Start persists that auto-sync is on, triggers a sync straight away
// and then every intervalMinutes. It fails if the scheduler is already
// armed; changing the interval means Stop then Start.
func (w *Scheduler) Start(intervalMinutes int) error {
	if intervalMinutes < MinIntervalMinutes || intervalMinutes > MaxIntervalMinutes {
		return errors.NotValidf("interval %d minutes (must be %d-%d)", intervalMinutes, MinIntervalMinutes, MaxIntervalMinutes)
	}
	resp, err := w.send(request{
		kind:     startRequest,
		interval: time.Duration(intervalMinutes) * time.Minute,
	})
	if err != nil {
		return errors.Trace(err)
	}
	return resp.err
}

// Stop disarms the scheduler and persists that auto-sync is off. A sync
// already running is left to finish. Stopping a disarmed scheduler only
// persists the state.
func (w *Scheduler) Stop() error {
	resp, err := w.send(request{kind: stopRequest})
	if err != nil {
		return errors.Trace(err)
	}
	return resp.err
}

// Status reports whether the scheduler is armed.
func (w *Scheduler) Status() Status {
	resp, err := w.send(request{kind: statusRequest})
	if err != nil {
		return Status{}
	}
	return resp.status
}

func (w *Scheduler) send(req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case w.requests <- req:
	case <-w.catacomb.Dying():
		return response{}, ErrStopped
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-w.catacomb.Dying():
		return response{}, ErrStopped
	}
}

// Kill is part of the worker.Worker interface.
func (w *Scheduler) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Scheduler) Wait() error {
	return w.catacomb.Wait()
}

func (w *Scheduler) loop() error {
	var (
		timer   clock.Timer
		timerCh <-chan time.Time
		status  Status
	)
	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerCh = nil, nil
		status = Status{}
	}
	rearm := func() {
		timer = w.cfg.Clock.NewTimer(status.Interval)
		timerCh = timer.Chan()
		status.NextFire = w.cfg.Clock.Now().Add(status.Interval)
	}
	defer disarm()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()

		case req := <-w.requests:
			var resp response
			switch req.kind {
			case startRequest:
				if status.Running {
					resp.err = errors.AlreadyExistsf("auto-sync every %v", status.Interval)
					break
				}
				if err := w.cfg.State.SetAutoSyncRunning(true); err != nil {
					resp.err = errors.Annotate(err, "saving auto-sync state")
					break
				}
				w.cfg.Logger.Infof("auto-sync started, every %v", req.interval)
				status = Status{Running: true, Interval: req.interval}
				w.fire()
				rearm()
			case stopRequest:
				if status.Running {
					w.cfg.Logger.Infof("auto-sync stopped")
				}
				disarm()
				if err := w.cfg.State.SetAutoSyncRunning(false); err != nil {
					resp.err = errors.Annotate(err, "saving auto-sync state")
				}
			case statusRequest:
			}
			resp.status = status
			req.reply <- resp

		case <-timerCh:
			w.fire()
			rearm()
		}
	}
}

func (w *Scheduler) fire() {
	w.cfg.Logger.Debugf("auto-sync firing")
	if err := w.cfg.Trigger(); err != nil {
		w.cfg.Logger.Warningf("auto-sync skipped: %v", err)
	}
}
