// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package attendance

import (
	"time"

	"github.com/attendux/syncagent/core/device"
)

const (
	// TypeAuto marks records collected by the agent rather than typed in
	// by a person in the dashboard.
	TypeAuto = "auto"

	// DefaultStatus is sent when the terminal did not report a status.
	DefaultStatus = 1

	timestampLayout      = "2006-01-02T15:04:05"
	timestampMicroLayout = "2006-01-02T15:04:05.000000"
)

// Punch is one raw check-in or check-out event read from a terminal.
type Punch struct {
	// UserID is the enrolment number the employee uses on the terminal.
	UserID string

	// Timestamp is the terminal's wall-clock reading. Terminals have no
	// notion of time zones, so only the clock fields are meaningful.
	Timestamp time.Time

	// Status is the verification status byte, nil if the terminal's
	// record layout does not carry one.
	Status *int

	// Punch is the in/out state selected on the keypad.
	Punch int
}

// Record is a punch in the shape the cloud accepts.
type Record struct {
	EmployeeID string    `json:"employee_id"`
	Timestamp  string    `json:"timestamp"`
	DeviceID   device.ID `json:"device_id"`
	Type       string    `json:"type"`
	Status     int       `json:"status"`
}

// Normalize converts a raw punch read from dev into a Record. It does
// no filtering or validation: every punch maps to exactly one record,
// and the same inputs always produce the same record.
func Normalize(p Punch, dev device.Device) Record {
	status := DefaultStatus
	if p.Status != nil {
		status = *p.Status
	}
	deviceID := dev.ID
	if deviceID.IsZero() {
		deviceID = device.StringID(dev.Name)
	}
	return Record{
		EmployeeID: p.UserID,
		Timestamp:  FormatTimestamp(p.Timestamp),
		DeviceID:   deviceID,
		Type:       TypeAuto,
		Status:     status,
	}
}

// NormalizeAll normalizes every punch read from dev, preserving order.
func NormalizeAll(punches []Punch, dev device.Device) []Record {
	records := make([]Record, len(punches))
	for i, p := range punches {
		records[i] = Normalize(p, dev)
	}
	return records
}

// FormatTimestamp renders the wall-clock fields of t as ISO-8601
// without a zone offset. Microseconds are only written when non-zero.
func FormatTimestamp(t time.Time) string {
	if t.Nanosecond()/int(time.Microsecond) != 0 {
		return t.Format(timestampMicroLayout)
	}
	return t.Format(timestampLayout)
}
