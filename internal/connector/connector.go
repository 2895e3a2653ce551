// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package connector abstracts reading punches from attendance
// terminals, so the sync engine does not depend on a terminal library
// being present.
package connector

import (
	"context"

	"github.com/juju/errors"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
)

const (
	// ErrDeviceUnreachable is returned when a connection to the
	// terminal cannot be established in time.
	ErrDeviceUnreachable = errors.ConstError("device unreachable")

	// ErrCapabilityUnavailable is returned by the stub connector used
	// when the agent was built or started without terminal support.
	ErrCapabilityUnavailable = errors.ConstError("device library not available")

	// ErrProtocol is returned when the terminal answered in a way that
	// could not be understood.
	ErrProtocol = errors.ConstError("device protocol error")
)

// Connector opens sessions with terminals.
type Connector interface {
	// Connect opens a session with dev.
	Connect(ctx context.Context, dev device.Device) (Conn, error)
}

// Conn is an open session with a single terminal.
type Conn interface {
	// Punches returns every punch stored on the terminal.
	Punches(ctx context.Context) ([]attendance.Punch, error)

	// Disconnect ends the session. It must be called even when
	// Punches failed.
	Disconnect() error
}

// Unavailable returns a Connector whose every Connect fails with
// ErrCapabilityUnavailable, without touching the network.
func Unavailable() Connector {
	return unavailable{}
}

type unavailable struct{}

// Connect is part of the Connector interface.
func (unavailable) Connect(_ context.Context, dev device.Device) (Conn, error) {
	return nil, errors.WithType(errors.Errorf("cannot connect to %s: device library not available", dev.Name), ErrCapabilityUnavailable)
}
