// Package file serves a static device list from a YAML file. It is used for
// local runs and for sites without access to the asset registry.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"atd/signal-comms/internal/domain"
)

type document struct {
	Devices []domain.DeviceSpec `yaml:"devices"`
}

type DeviceRepository struct {
	path string
}

func NewDeviceRepository(path string) *DeviceRepository {
	return &DeviceRepository{path: path}
}

// FetchDevices re-reads the file on every call and returns the devices of the
// requested type. Entries without a type inherit the requested one.
func (r *DeviceRepository) FetchDevices(_ context.Context, deviceType domain.DeviceType) ([]domain.DeviceSpec, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, r.registryError(deviceType, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, r.registryError(deviceType, fmt.Errorf("parse %s: %w", r.path, err))
	}

	devices := make([]domain.DeviceSpec, 0, len(doc.Devices))
	seen := make(map[string]int, len(doc.Devices))

	for i, d := range doc.Devices {
		if d.DeviceType == "" {
			d.DeviceType = deviceType
		}
		if d.DeviceType != deviceType {
			continue
		}
		if d.DeviceID == "" {
			return nil, r.registryError(deviceType, fmt.Errorf("device #%d: missing device_id", i+1))
		}
		if prev, dup := seen[d.DeviceID]; dup {
			return nil, r.registryError(deviceType, fmt.Errorf("device #%d: device_id %s repeats device #%d", i+1, d.DeviceID, prev))
		}
		seen[d.DeviceID] = i + 1
		devices = append(devices, d)
	}

	if len(doc.Devices) > 0 && len(devices) == 0 {
		return nil, r.registryError(deviceType, errors.New("no devices of this type"))
	}

	return devices, nil
}

func (r *DeviceRepository) registryError(deviceType domain.DeviceType, err error) error {
	return &domain.RegistryError{Source: "file", DeviceType: deviceType, Err: err}
}
