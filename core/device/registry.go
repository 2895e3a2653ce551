// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package device

// Registry is the set of devices the cloud reported for one tenant.
// A Registry is never modified after creation; a refresh produces a
// new Registry that replaces the old one wholesale.
type Registry struct {
	licenseKey string
	devices    []Device
}

// NewRegistry returns a registry of devices owned by the tenant that
// authenticates with licenseKey.
func NewRegistry(licenseKey string, devices []Device) Registry {
	return Registry{
		licenseKey: licenseKey,
		devices:    copyDevices(devices),
	}
}

// LicenseKey returns the key of the tenant owning the devices.
func (r Registry) LicenseKey() string {
	return r.licenseKey
}

// Devices returns a copy of the devices in registry order.
func (r Registry) Devices() []Device {
	return copyDevices(r.devices)
}

// Len returns the number of devices.
func (r Registry) Len() int {
	return len(r.devices)
}

// BelongsTo reports whether the registry was loaded for licenseKey. An
// empty registry belongs to every tenant.
func (r Registry) BelongsTo(licenseKey string) bool {
	return len(r.devices) == 0 || r.licenseKey == licenseKey
}

// CopyAll returns a copy of devices that shares no metadata maps
// with the original.
func CopyAll(devices []Device) []Device {
	return copyDevices(devices)
}

func copyDevices(in []Device) []Device {
	if len(in) == 0 {
		return nil
	}
	out := make([]Device, len(in))
	for i, d := range in {
		if d.Metadata != nil {
			md := make(map[string]any, len(d.Metadata))
			for k, v := range d.Metadata {
				md[k] = v
			}
			d.Metadata = md
		}
		out[i] = d
	}
	return out
}
