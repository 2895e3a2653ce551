// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package settings persists the agent's user settings.
package settings

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/attendux/syncagent/core/device"
)

const (
	// DefaultSyncInterval is the auto-sync interval in minutes.
	DefaultSyncInterval = 15

	// MinSyncInterval and MaxSyncInterval bound the auto-sync interval,
	// in minutes.
	MinSyncInterval = 5
	MaxSyncInterval = 120

	// LanguageEnglish and LanguageArabic are the supported UI languages.
	LanguageEnglish = "en"
	LanguageArabic  = "ar"
)

var languages = set.NewStrings(LanguageEnglish, LanguageArabic)

// Settings is everything the agent remembers between runs.
type Settings struct {
	LicenseKey         string          `yaml:"license_key" json:"license_key"`
	Devices            []device.Device `yaml:"devices" json:"devices"`
	SyncInterval       int             `yaml:"sync_interval" json:"sync_interval"`
	AutoStart          bool            `yaml:"auto_start" json:"auto_start"`
	ShowNotifications  bool            `yaml:"show_notifications" json:"show_notifications"`
	LastSync           string          `yaml:"last_sync" json:"last_sync"`
	AutoSyncWasRunning bool            `yaml:"auto_sync_was_running" json:"auto_sync_was_running"`
	Language           string          `yaml:"language" json:"language"`
}

// Default returns the settings of a fresh install.
func Default() Settings {
	return Settings{
		Devices:           []device.Device{},
		SyncInterval:      DefaultSyncInterval,
		AutoStart:         true,
		ShowNotifications: true,
		Language:          LanguageEnglish,
	}
}

// Validate checks the settings before they are saved.
func (s Settings) Validate() error {
	if err := ValidateSyncInterval(s.SyncInterval); err != nil {
		return errors.Trace(err)
	}
	if !languages.Contains(s.Language) {
		return errors.NotValidf("language %q", s.Language)
	}
	return nil
}

// ValidateSyncInterval checks an auto-sync interval in minutes.
func ValidateSyncInterval(minutes int) error {
	if minutes < MinSyncInterval || minutes > MaxSyncInterval {
		return errors.NotValidf("sync interval %d minutes (must be %d-%d)", minutes, MinSyncInterval, MaxSyncInterval)
	}
	return nil
}

// Copy returns a deep copy of s.
func (s Settings) Copy() Settings {
	out := s
	out.Devices = device.CopyAll(s.Devices)
	if out.Devices == nil {
		out.Devices = []device.Device{}
	}
	return out
}

// sanitize brings values read from disk back into range, the way the
// settings dialog would when they are next shown.
func (s *Settings) sanitize() {
	switch {
	case s.SyncInterval == 0:
		s.SyncInterval = DefaultSyncInterval
	case s.SyncInterval < MinSyncInterval:
		s.SyncInterval = MinSyncInterval
	case s.SyncInterval > MaxSyncInterval:
		s.SyncInterval = MaxSyncInterval
	}
	if !languages.Contains(s.Language) {
		s.Language = LanguageEnglish
	}
	if s.Devices == nil {
		s.Devices = []device.Device{}
	}
}
