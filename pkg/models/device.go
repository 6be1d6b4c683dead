package models

// MountPoint is one line of /proc/mounts
type MountPoint struct {
	Block      string `json:"block"`
	Name       string `json:"name"`
	FileSystem string `json:"filesystem"`
	ReadOnly   bool   `json:"read_only"`
}

// BatteryInfo is a parsed dumpsys battery snapshot
type BatteryInfo struct {
	Present     bool   `json:"present"`
	Status      string `json:"status"`
	Health      string `json:"health"`
	Level       int    `json:"level"`
	Scale       int    `json:"scale"`
	Voltage     int    `json:"voltage"`
	Temperature int    `json:"temperature"`
	Technology  string `json:"technology"`
	ACPowered   bool   `json:"ac_powered"`
	USBPowered  bool   `json:"usb_powered"`
	Wireless    bool   `json:"wireless_powered"`
}

// CalculatedLevel returns the level as a percentage of scale
func (b BatteryInfo) CalculatedLevel() int {
	if b.Scale <= 0 {
		return b.Level
	}
	return b.Level * 100 / b.Scale
}

// ForwardSpec is one active port forward
type ForwardSpec struct {
	Serial string `json:"serial"`
	Local  string `json:"local"`
	Remote string `json:"remote"`
}
