package domain

import "fmt"

// DeviceType names a class of signal-related equipment tracked in the asset registry.
type DeviceType string

const (
	DeviceTypeCamera               DeviceType = "camera"
	DeviceTypeDetector             DeviceType = "detector"
	DeviceTypeDigitalMessageSign   DeviceType = "digital_message_sign"
	DeviceTypeCabinetBatteryBackup DeviceType = "cabinet_battery_backup"
)

// DeviceSpec describes one network-addressable device as supplied by a registry.
type DeviceSpec struct {
	DeviceType   DeviceType `json:"device_type" yaml:"device_type"`
	DeviceID     string     `json:"device_id" yaml:"device_id"`
	IPAddress    string     `json:"ip_address" yaml:"ip_address"`
	KnackID      string     `json:"knack_id,omitempty" yaml:"knack_id"`
	LocationID   string     `json:"location_id,omitempty" yaml:"location_id"`
	LocationName string     `json:"location_name,omitempty" yaml:"location_name"`
	SignalID     string     `json:"signal_id,omitempty" yaml:"signal_id"`
}

// Key returns the identity of the device within a run.
func (d DeviceSpec) Key() string {
	return fmt.Sprintf("%s/%s", d.DeviceType, d.DeviceID)
}

func (d DeviceSpec) String() string {
	return fmt.Sprintf("<%s %q>", d.DeviceType, d.IPAddress)
}
