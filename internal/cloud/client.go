// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package cloud is the client for the Attendux sync API. A client is
// bound to a single license key for its whole life; switching tenant
// means building a new client.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/attendux/syncagent/core/attendance"
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/core/license"
)

const (
	// DefaultBaseURL is the production sync API.
	DefaultBaseURL = "https://app.attendux.com/api/sync"

	// UserAgent identifies the agent to the cloud.
	UserAgent = "Attendux-Sync-Agent/1.0"

	// JSON is the MIME type of every request and response body.
	JSON = "application/json"

	// LicenseKeyHeader carries the tenant's license key.
	LicenseKeyHeader = "X-License-Key"

	// RequestIDHeader correlates an upload with the sync run it belongs to.
	RequestIDHeader = "X-Request-ID"
)

// Default per-call timeouts.
const (
	DefaultVerifyTimeout  = 10 * time.Second
	DefaultDevicesTimeout = 10 * time.Second
	DefaultPushTimeout    = 30 * time.Second
)

// ErrUploadRejected is returned when a batch of records did not reach
// the cloud or was refused by it.
const ErrUploadRejected = errors.ConstError("upload rejected")

// HTTPClient performs requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Logger is the logging interface used by the client.
type Logger interface {
	Errorf(string, ...any)
	Warningf(string, ...any)
	Debugf(string, ...any)
	Tracef(string, ...any)
	IsTraceEnabled() bool
}

// Config holds the dependencies and settings of a Client.
type Config struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string

	// LicenseKey authenticates every request.
	LicenseKey string

	// HTTPClient defaults to a plain *http.Client; per-call timeouts
	// are applied through the request context.
	HTTPClient HTTPClient

	VerifyTimeout  time.Duration
	DevicesTimeout time.Duration
	PushTimeout    time.Duration

	Logger Logger
}

// Validate checks the config.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LicenseKey) == "" {
		return errors.NotValidf("empty LicenseKey")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.VerifyTimeout < 0 || c.DevicesTimeout < 0 || c.PushTimeout < 0 {
		return errors.NotValidf("negative timeout")
	}
	return nil
}

// VerifyResult is the cloud's answer to a license check.
type VerifyResult struct {
	Valid   bool            `json:"valid"`
	Company license.Company `json:"company"`
}

// PushResult is the cloud's answer to an upload.
type PushResult struct {
	Success bool `json:"success"`
	Synced  int  `json:"synced"`
}

// Client talks to the sync API on behalf of one tenant.
type Client struct {
	cfg Config
}

// NewClient returns a client for the tenant identified by
// cfg.LicenseKey.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = DefaultVerifyTimeout
	}
	if cfg.DevicesTimeout == 0 {
		cfg.DevicesTimeout = DefaultDevicesTimeout
	}
	if cfg.PushTimeout == 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	return &Client{cfg: cfg}, nil
}

// LicenseKey returns the key the client authenticates with.
func (c *Client) LicenseKey() string {
	return c.cfg.LicenseKey
}

// Verify asks the cloud whether the license key is valid. Any failure
// to get an answer is reported as an invalid key.
func (c *Client) Verify(ctx context.Context) VerifyResult {
	var result VerifyResult
	if err := c.call(ctx, http.MethodPost, "/verify", c.cfg.VerifyTimeout, nil, nil, &result); err != nil {
		c.cfg.Logger.Warningf("license verification error: %v", err)
		return VerifyResult{}
	}
	return result
}

// ListDevices returns the devices registered to the tenant. Failures
// are logged and reported as an empty list. Entries that cannot be
// parsed are skipped.
func (c *Client) ListDevices(ctx context.Context) []device.Device {
	var result struct {
		Devices []map[string]any `json:"devices"`
	}
	if err := c.call(ctx, http.MethodGet, "/devices", c.cfg.DevicesTimeout, nil, nil, &result); err != nil {
		c.cfg.Logger.Warningf("get devices error: %v", err)
		return nil
	}
	devices := make([]device.Device, 0, len(result.Devices))
	for i, attrs := range result.Devices {
		dev, err := device.FromAttrs(attrs)
		if err != nil {
			c.cfg.Logger.Warningf("skipping device %d: %v", i, err)
			continue
		}
		devices = append(devices, dev)
	}
	return devices
}

// PushRecords uploads one batch of records. runID, if set, is sent as
// the request id. Any failure, including the cloud answering with
// success=false, satisfies ErrUploadRejected.
func (c *Client) PushRecords(ctx context.Context, runID string, records []attendance.Record) (PushResult, error) {
	if records == nil {
		records = []attendance.Record{}
	}
	body := struct {
		Records []attendance.Record `json:"records"`
	}{Records: records}

	header := make(http.Header)
	if runID == "" {
		runID = uuid.NewString()
	}
	header.Set(RequestIDHeader, runID)

	var result PushResult
	if err := c.call(ctx, http.MethodPost, "/attendance", c.cfg.PushTimeout, header, body, &result); err != nil {
		return PushResult{}, errors.WithType(errors.Annotate(err, "sending attendance"), ErrUploadRejected)
	}
	if !result.Success {
		return result, errors.WithType(errors.New("cloud did not accept attendance"), ErrUploadRejected)
	}
	return result, nil
}

func (c *Client) call(
	ctx context.Context,
	method, path string,
	timeout time.Duration,
	header http.Header,
	body, result any,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Trace(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return errors.Annotate(err, "can not make new request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(LicenseKeyHeader, c.cfg.LicenseKey)
	req.Header.Set("Content-Type", JSON)
	req.Header.Set("Accept", JSON)
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.cfg.Logger.IsTraceEnabled() {
		if data, err := httputil.DumpResponse(resp, true); err == nil {
			c.cfg.Logger.Tracef("%s %s response %s", method, path, data)
		}
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return errors.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if err := httprequest.UnmarshalJSONResponse(resp, result); err != nil {
		return errors.Annotatef(err, "%s %s", method, path)
	}
	c.cfg.Logger.Debugf("%s %s: %s", method, path, resp.Status)
	return nil
}
