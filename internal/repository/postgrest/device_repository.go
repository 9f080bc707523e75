package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"atd/signal-comms/internal/config"
	"atd/signal-comms/internal/domain"
)

const knackResource = "knack"

// KnackRecord is a raw Knack record keyed by Knack field key.
type KnackRecord map[string]any

// DeviceRepository reads device assets mirrored from Knack into PostgREST.
type DeviceRepository struct {
	client      *Client
	appID       string
	deviceTypes []config.DeviceTypeConfig
	log         *slog.Logger
}

func NewDeviceRepository(client *Client, appID string, deviceTypes []config.DeviceTypeConfig, log *slog.Logger) *DeviceRepository {
	return &DeviceRepository{
		client:      client,
		appID:       appID,
		deviceTypes: deviceTypes,
		log:         log,
	}
}

func (r *DeviceRepository) FetchDevices(ctx context.Context, deviceType domain.DeviceType) ([]domain.DeviceSpec, error) {
	dt, ok := r.lookup(deviceType)
	if !ok {
		return nil, r.registryError(deviceType, fmt.Errorf("no container configured for device type %q", deviceType))
	}

	params := url.Values{}
	params.Set("select", "record")
	params.Set("app_id", "eq."+r.appID)
	params.Set("container_id", "eq."+dt.Container)
	params.Set("order", "updated_at")

	var rows []struct {
		Record KnackRecord `json:"record"`
	}

	r.log.Debug("fetching device records", "container", dt.Container, "device_type", deviceType)

	if err := r.client.Select(ctx, knackResource, params, &rows); err != nil {
		return nil, r.registryError(deviceType, err)
	}

	records := make([]KnackRecord, 0, len(rows))
	for _, row := range rows {
		if row.Record == nil {
			return nil, r.registryError(deviceType, errors.New("malformed row: missing record"))
		}
		records = append(records, row.Record)
	}

	devices, skipped := BuildDevices(records, deviceType, dt.Fields)
	if skipped > 0 {
		r.log.Warn("skipped device records", "device_type", deviceType, "skipped", skipped)
	}

	return devices, nil
}

func (r *DeviceRepository) lookup(deviceType domain.DeviceType) (config.DeviceTypeConfig, bool) {
	for _, dt := range r.deviceTypes {
		if dt.Name == string(deviceType) {
			return dt, true
		}
	}
	return config.DeviceTypeConfig{}, false
}

func (r *DeviceRepository) registryError(deviceType domain.DeviceType, err error) error {
	return &domain.RegistryError{Source: "postgrest", DeviceType: deviceType, Err: err}
}

// BuildDevices maps Knack records onto device specs. Records without an IP
// address or device id, and repeated device ids, are skipped and counted.
func BuildDevices(records []KnackRecord, deviceType domain.DeviceType, fields config.FieldMapping) ([]domain.DeviceSpec, int) {
	devices := make([]domain.DeviceSpec, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	skipped := 0

	for _, rec := range records {
		device := domain.DeviceSpec{
			DeviceType:   deviceType,
			DeviceID:     rec.field(fields.DeviceID),
			IPAddress:    rec.field(fields.IPAddress),
			KnackID:      rec.field(fields.KnackID),
			LocationID:   rec.field(fields.LocationID),
			LocationName: rec.field(fields.LocationName),
			SignalID:     rec.field(fields.SignalID),
		}

		if device.DeviceID == "" || device.IPAddress == "" {
			skipped++
			continue
		}
		if _, dup := seen[device.DeviceID]; dup {
			skipped++
			continue
		}
		seen[device.DeviceID] = struct{}{}

		devices = append(devices, device)
	}

	return devices, skipped
}

func (r KnackRecord) field(key string) string {
	if key == "" {
		return ""
	}
	return stringValue(r[key])
}

// stringValue flattens the shapes Knack uses for field values. Connection
// fields arrive as a list of {id, identifier} objects; the first is used.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		if len(val) == 0 {
			return ""
		}
		return stringValue(val[0])
	case map[string]any:
		if id, ok := val["identifier"]; ok {
			return stringValue(id)
		}
		return stringValue(val["id"])
	}
	return fmt.Sprintf("%v", v)
}
