package domain

import "fmt"

// RegistryError reports that the device list could not be obtained. It is
// fatal to a run: no device is probed.
type RegistryError struct {
	Source     string
	DeviceType DeviceType
	Err        error
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry %s: fetch %s devices: %v", e.Source, e.DeviceType, e.Err)
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// SinkError reports that a batch could not be persisted.
type SinkError struct {
	Sink  string
	RunID string
	Err   error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: persist run %s: %v", e.Sink, e.RunID, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}
