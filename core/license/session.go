// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package license

import (
	"strings"

	"github.com/juju/errors"
)

const (
	// ErrEmptyLicenseKey is returned before any network call is made
	// when the user has not supplied a key.
	ErrEmptyLicenseKey = errors.ConstError("please enter a license key")

	// ErrInvalidLicense is returned when the cloud does not accept the
	// key, or could not be asked.
	ErrInvalidLicense = errors.ConstError("invalid license key or expired")
)

// Company describes the tenant that owns a license key.
type Company struct {
	Name          string `json:"name"`
	Plan          string `json:"plan"`
	LicenseExpiry string `json:"license_expiry"`
}

// Session is a license key the cloud has verified, together with the
// tenant it identifies. The zero Session is not valid.
type Session struct {
	key     string
	company Company
}

// NewSession returns a session for a verified key.
func NewSession(key string, company Company) Session {
	return Session{key: key, company: company}
}

// Key returns the license key.
func (s Session) Key() string {
	return s.key
}

// Company returns the tenant details reported at verification.
func (s Session) Company() Company {
	return s.company
}

// Valid reports whether the session holds a verified key.
func (s Session) Valid() bool {
	return s.key != ""
}

// CleanKey trims the key the way it is typed into the agent, and
// rejects an empty result.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyLicenseKey
	}
	return key, nil
}

// Redact returns a form of key that is safe to log.
func Redact(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", len(key)-4) + key[len(key)-4:]
}
