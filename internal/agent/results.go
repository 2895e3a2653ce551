// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package agent

import (
	"github.com/attendux/syncagent/core/device"
	"github.com/attendux/syncagent/core/license"
	"github.com/attendux/syncagent/internal/settings"
	"github.com/attendux/syncagent/internal/syncengine"
	"github.com/attendux/syncagent/internal/worker/autosync"
)

// Result is published on Agent.Results when a background operation
// finishes. It is one of ConnectResult, DevicesResult or SyncResult.
type Result interface {
	result()
}

// ConnectResult reports a license verification. Err is nil when the
// key was accepted.
type ConnectResult struct {
	Session license.Session
	Err     error
}

// DevicesResult reports a device refresh. Refreshed is false when the
// cloud returned no devices and the previous list was kept.
type DevicesResult struct {
	Devices   []device.Device
	Refreshed bool
}

// Trigger says what started a sync.
type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

// SyncResult reports a finished sync. Notification is nil when the user
// switched notifications off.
type SyncResult struct {
	Report       syncengine.Report
	Trigger      Trigger
	Notification *Notification
}

// Notification is the message shown to the user when a sync finishes.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Warning bool   `json:"warning"`
}

func (ConnectResult) result() {}
func (DevicesResult) result() {}
func (SyncResult) result()    {}

// Status describes the agent.
type Status struct {
	Connected  bool             `json:"connected"`
	LicenseKey string           `json:"license_key,omitempty"`
	Company    *license.Company `json:"company,omitempty"`
	Devices    []device.Device  `json:"devices"`
	Syncing    bool             `json:"syncing"`
	AutoSync   autosync.Status  `json:"auto_sync"`
	LastSync   string           `json:"last_sync,omitempty"`
}

// Preferences holds the user-editable settings. Nil fields are left
// unchanged.
type Preferences struct {
	SyncInterval      *int    `json:"sync_interval,omitempty"`
	AutoStart         *bool   `json:"auto_start,omitempty"`
	ShowNotifications *bool   `json:"show_notifications,omitempty"`
	Language          *string `json:"language,omitempty"`
}

func (p Preferences) apply(s *settings.Settings) error {
	if p.SyncInterval != nil {
		s.SyncInterval = *p.SyncInterval
	}
	if p.AutoStart != nil {
		s.AutoStart = *p.AutoStart
	}
	if p.ShowNotifications != nil {
		s.ShowNotifications = *p.ShowNotifications
	}
	if p.Language != nil {
		s.Language = *p.Language
	}
	return nil
}
