// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package connector

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/juju/errors"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/internal/zk"
)

const (
	// DefaultTimeout bounds connecting to a terminal and each exchange
	// with it.
	DefaultTimeout = 5 * time.Second

	// CommKeyAttr is the device metadata attribute holding the numeric
	// communication key configured on the terminal.
	CommKeyAttr = "comm_key"
)

// Logger is the logging interface used by the ZKTeco connector.
type Logger interface {
	Debugf(string, ...any)
	Tracef(string, ...any)
}

// ZKConfig configures a ZKTeco connector.
type ZKConfig struct {
	// Timeout bounds the dial and every exchange. Zero means
	// DefaultTimeout.
	Timeout time.Duration

	Logger Logger

	// Dial is passed through to the protocol client; tests use it to
	// redirect connections.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Validate checks the config.
func (c ZKConfig) Validate() error {
	if c.Timeout < 0 {
		return errors.NotValidf("negative Timeout")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// NewZK returns a Connector speaking the ZKTeco TCP protocol.
func NewZK(cfg ZKConfig) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &zkConnector{cfg: cfg}, nil
}

type zkConnector struct {
	cfg ZKConfig
}

// Connect is part of the Connector interface.
func (c *zkConnector) Connect(ctx context.Context, dev device.Device) (Conn, error) {
	password, err := commKey(dev)
	if err != nil {
		return nil, errors.Trace(err)
	}
	client, err := zk.Dial(ctx, zk.Config{
		Address:  dev.Address(),
		Password: password,
		Timeout:  c.cfg.Timeout,
		Dial:     c.cfg.Dial,
		Logger:   c.cfg.Logger,
	})
	switch {
	case errors.Is(err, zk.ErrUnreachable):
		return nil, errors.WithType(errors.Annotatef(err, "connecting to %s", dev), ErrDeviceUnreachable)
	case err != nil:
		return nil, errors.WithType(errors.Annotatef(err, "connecting to %s", dev), ErrProtocol)
	}
	return &zkConn{client: client, dev: dev}, nil
}

type zkConn struct {
	client *zk.Client
	dev    device.Device
}

// Punches is part of the Conn interface.
func (c *zkConn) Punches(ctx context.Context) ([]attendance.Punch, error) {
	records, err := c.client.Attendance(ctx)
	if err != nil {
		return nil, errors.WithType(errors.Annotatef(err, "reading attendance from %s", c.dev), ErrProtocol)
	}
	punches := make([]attendance.Punch, len(records))
	for i, r := range records {
		status := r.Status
		punches[i] = attendance.Punch{
			UserID:    r.UserID,
			Timestamp: r.Timestamp,
			Status:    &status,
			Punch:     r.Punch,
		}
	}
	return punches, nil
}

// Disconnect is part of the Conn interface.
func (c *zkConn) Disconnect() error {
	return errors.Trace(c.client.Close())
}

// commKey reads the terminal communication key from the device
// metadata. Missing means no key.
func commKey(dev device.Device) (uint32, error) {
	v, ok := dev.Metadata[CommKeyAttr]
	if !ok || v == nil {
		return 0, nil
	}
	s := fmt.Sprint(v)
	if s == "" {
		return 0, nil
	}
	// JSON numbers decode as float64.
	if f, ok := v.(float64); ok {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	}
	key, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.NotValidf("%s %s %q", dev.Name, CommKeyAttr, s)
	}
	return uint32(key), nil
}
