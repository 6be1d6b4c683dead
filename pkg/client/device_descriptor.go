package client

import (
	"strings"
)

// DeviceState is the connection state reported by the adb server
type DeviceState int

const (
	StateUnknown DeviceState = iota
	StateOffline
	StateOnline
	StateUnauthorized
	StateBootLoader
	StateRecovery
	StateSideload
	StateHost
)

// String returns the adb name of the state
func (s DeviceState) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "device"
	case StateUnauthorized:
		return "unauthorized"
	case StateBootLoader:
		return "bootloader"
	case StateRecovery:
		return "recovery"
	case StateSideload:
		return "sideload"
	case StateHost:
		return "host"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its adb name
func (s DeviceState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseDeviceState maps an adb state word
func ParseDeviceState(s string) DeviceState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "offline":
		return StateOffline
	case "device", "online":
		return StateOnline
	case "unauthorized":
		return StateUnauthorized
	case "bootloader":
		return StateBootLoader
	case "recovery":
		return StateRecovery
	case "sideload":
		return StateSideload
	case "host":
		return StateHost
	default:
		return StateUnknown
	}
}

// DeviceDescriptor is one device known to the adb server. Serial is its identity.
type DeviceDescriptor struct {
	Serial      string      `json:"serial"`
	State       DeviceState `json:"state"`
	Model       string      `json:"model,omitempty"`
	Product     string      `json:"product,omitempty"`
	Name        string      `json:"name,omitempty"`
	TransportID string      `json:"transport_id,omitempty"`
	Usb         string      `json:"usb,omitempty"`
}

// IsOnline reports whether shell and sync operations can succeed
func (d DeviceDescriptor) IsOnline() bool {
	return d.State == StateOnline
}

// IsEmulator reports whether the serial names an emulator console
func (d DeviceDescriptor) IsEmulator() bool {
	return strings.HasPrefix(d.Serial, "emulator-")
}

// Equal reports whether every field matches
func (d DeviceDescriptor) Equal(o DeviceDescriptor) bool {
	return d == o
}

// ParseDeviceLine parses one line of host:devices-l or track-devices output
func ParseDeviceLine(line string) (DeviceDescriptor, bool) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return DeviceDescriptor{}, false
	}

	d := DeviceDescriptor{
		Serial: parts[0],
		State:  ParseDeviceState(parts[1]),
	}

	for _, part := range parts[2:] {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch key {
		case "model":
			d.Model = value
		case "product":
			d.Product = value
		case "device":
			d.Name = value
		case "transport_id":
			d.TransportID = value
		case "usb":
			d.Usb = value
		}
	}
	return d, true
}

// ParseDeviceList parses a whole device list payload, skipping blank or malformed lines
func ParseDeviceList(payload string) []DeviceDescriptor {
	var devices []DeviceDescriptor
	for _, line := range strings.Split(payload, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		if d, ok := ParseDeviceLine(line); ok {
			devices = append(devices, d)
		}
	}
	return devices
}
