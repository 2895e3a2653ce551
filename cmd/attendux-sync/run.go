// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"
	"github.com/juju/mutex/v2"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/attendux/syncagent/internal/agent"
	"github.com/attendux/syncagent/internal/cloud"
	"github.com/attendux/syncagent/internal/connector"
	"github.com/attendux/syncagent/internal/controlapi"
	"github.com/attendux/syncagent/internal/settings"
	"github.com/attendux/syncagent/internal/syncengine"
)

// lockName guards against two agents syncing the same terminals.
const lockName = "attendux-sync-agent"

func run(opts options, stderr io.Writer) error {
	dir := opts.dir
	if dir == "" {
		var err error
		if dir, err = settings.DefaultDir(); err != nil {
			return errors.Trace(err)
		}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Annotatef(err, "cannot create agent directory %q", dir)
	}
	if err := setupLogging(dir, opts, stderr); err != nil {
		return errors.Trace(err)
	}

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    lockName,
		Clock:   clock.WallClock,
		Delay:   250 * time.Millisecond,
		Timeout: time.Second,
	})
	if errors.Is(err, mutex.ErrTimeout) {
		return errors.New("another sync agent is already running")
	} else if err != nil {
		return errors.Annotate(err, "acquiring agent lock")
	}
	defer releaser.Release()

	store, err := settings.Open(dir)
	if err != nil {
		return errors.Trace(err)
	}

	registry := prometheus.NewRegistry()
	metrics := syncengine.NewMetricsCollector()
	registry.MustRegister(metrics, collectors.NewGoCollector())

	a, err := newAgent(opts, store, metrics)
	if err != nil {
		return errors.Trace(err)
	}
	workers := []worker.Worker{a}

	if opts.apiAddress != "" {
		listener, err := net.Listen("tcp", opts.apiAddress)
		if err != nil {
			stopAll(workers)
			return errors.Annotate(err, "listening for control API")
		}
		srv, err := controlapi.NewServer(controlapi.Config{
			Listener:   listener,
			Controller: a,
			Gatherer:   registry,
		})
		if err != nil {
			_ = listener.Close()
			stopAll(workers)
			return errors.Trace(err)
		}
		workers = append(workers, srv)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if key := store.Snapshot().LicenseKey; key != "" {
		logger.Infof("connecting with saved license key")
		if err := a.Connect(key); err != nil {
			logger.Errorf("cannot connect: %v", err)
		}
	}

	consumeResults(ctx, a)
	logger.Infof("shutting down")
	return errors.Trace(stopAll(workers))
}

func newAgent(opts options, store *settings.Store, metrics *syncengine.Collector) (*agent.Agent, error) {
	var conn connector.Connector
	switch opts.connectorKind {
	case connectorUnavailable:
		conn = connector.Unavailable()
	default:
		var err error
		conn, err = connector.NewZK(connector.ZKConfig{
			Logger: loggo.GetLogger("attendux.connector"),
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	engine, err := syncengine.NewEngine(syncengine.Config{
		Connector: conn,
		Clock:     clock.WallClock,
		Logger:    loggo.GetLogger("attendux.syncengine"),
		Metrics:   metrics,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	httpClient := &http.Client{}
	return agent.NewAgent(agent.Config{
		Settings: store,
		NewClient: func(licenseKey string) (agent.CloudClient, error) {
			return cloud.NewClient(cloud.Config{
				BaseURL:    opts.baseURL,
				LicenseKey: licenseKey,
				HTTPClient: httpClient,
				Logger:     loggo.GetLogger("attendux.cloud"),
			})
		},
		Engine: engine,
		Clock:  clock.WallClock,
		Logger: loggo.GetLogger("attendux.agent"),
	})
}

// consumeResults logs what the agent reports until ctx is done or the
// agent stops. Auto-sync is resumed after the first successful connect.
func consumeResults(ctx context.Context, a *agent.Agent) {
	resumeChecked := false
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-a.Results():
			if !ok {
				return
			}
			if connected := handleResult(r); connected && !resumeChecked {
				resumeChecked = true
				if _, err := a.ResumeAutoSync(); err != nil {
					logger.Warningf("%v", err)
				}
			}
		}
	}
}

// handleResult logs r and reports whether it was a successful connect.
func handleResult(r agent.Result) bool {
	switch r := r.(type) {
	case agent.ConnectResult:
		if r.Err != nil {
			logger.Errorf("license: %v", r.Err)
			return false
		}
		company := r.Session.Company()
		logger.Infof("connected to %s (plan %s, license expires %s)", company.Name, company.Plan, company.LicenseExpiry)
		return true
	case agent.DevicesResult:
		logger.Infof("%d devices registered", len(r.Devices))
	case agent.SyncResult:
		if n := r.Notification; n != nil {
			if n.Warning {
				logger.Warningf("%s: %s", n.Title, n.Message)
			} else {
				logger.Infof("%s: %s", n.Title, n.Message)
			}
		}
	}
	return false
}

func stopAll(workers []worker.Worker) error {
	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Kill()
	}
	var firstErr error
	for i := len(workers) - 1; i >= 0; i-- {
		if err := workers[i].Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func setupLogging(dir string, opts options, stderr io.Writer) error {
	level := loggo.INFO
	if opts.debug {
		level = loggo.DEBUG
	}
	loggo.GetLogger("").SetLogLevel(level)

	if opts.logFile == "-" {
		_, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(stderr, loggo.DefaultFormatter))
		return errors.Trace(err)
	}
	path := opts.logFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	ljLogger := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		Compress:   true,
	}
	if err := loggo.RegisterWriter("logfile", loggo.NewSimpleWriter(ljLogger, loggo.DefaultFormatter)); err != nil {
		return errors.Trace(err)
	}
	logger.Debugf("logging to %q", path)
	return nil
}
