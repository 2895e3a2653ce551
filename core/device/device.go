// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package device

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"strconv"

	"github.com/juju/errors"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the TCP port ZKTeco terminals listen on out of the box.
const DefaultPort = 4370

// ID is the cloud-assigned identifier of a device. The agent treats it
// as opaque text but remembers whether the cloud sent it as a JSON
// number, so it goes back on the wire in the same form.
type ID struct {
	value   string
	numeric bool
}

// StringID returns an ID the cloud sent as a JSON string.
func StringID(s string) ID {
	return ID{value: s}
}

// NumericID returns an ID the cloud sent as a JSON number.
func NumericID(n int64) ID {
	return ID{value: strconv.FormatInt(n, 10), numeric: true}
}

// String returns the id as text.
func (id ID) String() string {
	return id.value
}

// IsZero reports whether the cloud sent no id.
func (id ID) IsZero() bool {
	return id.value == ""
}

// Numeric reports whether the id was sent as a JSON number.
func (id ID) Numeric() bool {
	return id.numeric
}

func (id ID) attr() any {
	if id.numeric {
		n, _ := strconv.ParseInt(id.value, 10, 64)
		return n
	}
	return id.value
}

// MarshalJSON writes the id in the JSON form it was received in.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON accepts both JSON numbers and JSON strings.
func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Trace(err)
	}
	parsed, err := coerceID(v)
	if err != nil {
		return errors.Trace(err)
	}
	*id = parsed
	return nil
}

// Device is a biometric terminal registered to one tenant in the cloud.
type Device struct {
	ID   ID
	Name string
	IP   string
	Port int

	// Metadata holds the attributes the cloud sent that the agent does
	// not interpret. They are kept so the device round-trips through the
	// settings file unchanged.
	Metadata map[string]any
}

// Address returns the host:port the terminal listens on.
func (d Device) Address() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// String is used in log lines and sync error messages.
func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Address())
}

// Validate checks that the device can be dialled.
func (d Device) Validate() error {
	if d.Name == "" {
		return errors.NotValidf("device with empty name")
	}
	if d.IP == "" {
		return errors.NotValidf("device %q with empty ip", d.Name)
	}
	if d.Port <= 0 || d.Port > 65535 {
		return errors.NotValidf("device %q port %d", d.Name, d.Port)
	}
	return nil
}

var deviceFields = schema.Fields{
	"id":   schema.OneOf(schema.String(), schema.ForceInt()),
	"name": schema.String(),
	"ip":   schema.String(),
	"port": schema.ForceInt(),
}

var deviceDefaults = schema.Defaults{
	"id":   schema.Omit,
	"port": DefaultPort,
}

var deviceChecker = schema.FieldMap(deviceFields, deviceDefaults)

// FromAttrs builds a Device from a loosely typed attribute map, as
// returned by the cloud or read back from an older settings file.
// Ports and ids may arrive either as strings or numbers.
func FromAttrs(attrs map[string]any) (Device, error) {
	known := make(map[string]any, len(deviceFields))
	for k := range deviceFields {
		if v, ok := attrs[k]; ok && v != nil {
			known[k] = v
		}
	}
	coerced, err := deviceChecker.Coerce(known, nil)
	if err != nil {
		return Device{}, errors.Annotate(err, "parsing device")
	}
	values := coerced.(map[string]any)

	var d Device
	if v, ok := values["id"]; ok {
		id, err := coerceID(v)
		if err != nil {
			return Device{}, errors.Trace(err)
		}
		d.ID = id
	}
	d.Name, _ = values["name"].(string)
	d.IP, _ = values["ip"].(string)
	switch port := values["port"].(type) {
	case int:
		d.Port = port
	case int64:
		d.Port = int(port)
	}

	for k, v := range attrs {
		if _, known := deviceFields[k]; known {
			continue
		}
		if d.Metadata == nil {
			d.Metadata = make(map[string]any)
		}
		d.Metadata[k] = v
	}
	return d, nil
}

// Attrs is the inverse of FromAttrs.
func (d Device) Attrs() map[string]any {
	attrs := make(map[string]any, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		attrs[k] = v
	}
	if !d.ID.IsZero() {
		attrs["id"] = d.ID.attr()
	}
	attrs["name"] = d.Name
	attrs["ip"] = d.IP
	attrs["port"] = d.Port
	return attrs
}

// MarshalJSON implements json.Marshaler.
func (d Device) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Attrs())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Device) UnmarshalJSON(data []byte) error {
	var attrs map[string]any
	if err := json.Unmarshal(data, &attrs); err != nil {
		return errors.Trace(err)
	}
	parsed, err := FromAttrs(attrs)
	if err != nil {
		return errors.Trace(err)
	}
	*d = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Device) MarshalYAML() (any, error) {
	return d.Attrs(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Device) UnmarshalYAML(value *yaml.Node) error {
	var attrs map[string]any
	if err := value.Decode(&attrs); err != nil {
		return errors.Trace(err)
	}
	parsed, err := FromAttrs(attrs)
	if err != nil {
		return errors.Trace(err)
	}
	*d = parsed
	return nil
}

func coerceID(v any) (ID, error) {
	switch id := v.(type) {
	case nil:
		return ID{}, nil
	case string:
		return StringID(id), nil
	case int:
		return NumericID(int64(id)), nil
	case int64:
		return NumericID(id), nil
	case uint64:
		if id <= math.MaxInt64 {
			return NumericID(int64(id)), nil
		}
	case float64:
		if id == math.Trunc(id) && math.Abs(id) <= 1<<53 {
			return NumericID(int64(id)), nil
		}
	}
	return ID{}, errors.NotValidf("device id %v (%T)", v, v)
}
