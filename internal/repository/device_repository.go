package repository

import (
	"context"

	"atd/signal-comms/internal/domain"
)

// DeviceRepository supplies the devices of one type. Implementations return
// a *domain.RegistryError when the source is unreachable or malformed.
type DeviceRepository interface {
	FetchDevices(ctx context.Context, deviceType domain.DeviceType) ([]domain.DeviceSpec, error)
}
