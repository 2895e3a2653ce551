// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package controlapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/tomb.v2"
)

// DefaultAddress keeps the API on the loopback interface.
const DefaultAddress = "127.0.0.1:8765"

const shutdownTimeout = 5 * time.Second

// Config holds the dependencies of the API server.
type Config struct {
	Listener   net.Listener
	Controller Controller
	Gatherer   prometheus.Gatherer
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.Listener == nil {
		return errors.NotValidf("nil Listener")
	}
	if c.Controller == nil {
		return errors.NotValidf("nil Controller")
	}
	if c.Gatherer == nil {
		return errors.NotValidf("nil Gatherer")
	}
	return nil
}

// Server is a worker serving the API on a listener until killed.
type Server struct {
	tomb     tomb.Tomb
	listener net.Listener
	server   *http.Server
}

// NewServer starts serving on cfg.Listener. The listener is closed when
// the server stops.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &Server{
		listener: cfg.Listener,
		server: &http.Server{
			Handler:           NewHandler(cfg.Controller, cfg.Gatherer),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.tomb.Go(s.loop)
	return s, nil
}

var _ worker.Worker = (*Server)(nil)

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Kill is part of the worker.Worker interface.
func (s *Server) Kill() {
	s.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *Server) Wait() error {
	return s.tomb.Wait()
}

func (s *Server) loop() error {
	logger.Infof("control API listening on %s", s.listener.Addr())
	s.tomb.Go(func() error {
		err := s.server.Serve(s.listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Annotate(err, "serving control API")
	})

	<-s.tomb.Dying()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return errors.Annotate(err, "stopping control API")
	}
	logger.Debugf("control API stopped")
	return tomb.ErrDying
}
