package domain

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TimestampFormat is the layout the open-data portal expects for record timestamps.
const TimestampFormat = "2006-01-02T15:04:05"

var runNamespace = uuid.MustParse("4f6d1a52-6a0e-4c55-9d3b-4e1f3c0b7a21")

// NewRunID derives a stable identifier for a run so that re-persisting the same
// run always carries the same id.
func NewRunID(deviceType DeviceType, runAt time.Time) string {
	name := fmt.Sprintf("%s/%d", deviceType, runAt.UTC().UnixMilli())
	return uuid.NewSHA1(runNamespace, []byte(name)).String()
}

// ProbeBatch holds every outcome of one run, ordered by device id.
type ProbeBatch struct {
	RunID      string         `json:"run_id"`
	RunAt      time.Time      `json:"run_at"`
	DeviceType DeviceType     `json:"device_type"`
	Outcomes   []ProbeOutcome `json:"outcomes"`
}

// NewProbeBatch sorts outcomes by device id and stamps the batch with its run id.
func NewProbeBatch(deviceType DeviceType, runAt time.Time, outcomes []ProbeOutcome) ProbeBatch {
	sorted := make([]ProbeOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return lessDeviceID(sorted[i].Device.DeviceID, sorted[j].Device.DeviceID)
	})

	runAt = runAt.UTC().Truncate(time.Millisecond)
	return ProbeBatch{
		RunID:      NewRunID(deviceType, runAt),
		RunAt:      runAt,
		DeviceType: deviceType,
		Outcomes:   sorted,
	}
}

// Records flattens the batch into publishable rows.
func (b ProbeBatch) Records() []Record {
	records := make([]Record, 0, len(b.Outcomes))
	for _, o := range b.Outcomes {
		records = append(records, NewRecord(b, o))
	}
	return records
}

// Summary counts outcomes per status description.
func (b ProbeBatch) Summary() map[Reason]int {
	counts := make(map[Reason]int)
	for _, o := range b.Outcomes {
		counts[o.Reason]++
	}
	return counts
}

// Record is one row of the published comm status dataset.
type Record struct {
	ID           string  `json:"id"`
	IPAddress    string  `json:"ip_address"`
	DeviceID     string  `json:"device_id"`
	KnackID      *string `json:"knack_id"`
	LocationName *string `json:"location_name"`
	LocationID   *string `json:"location_id"`
	SignalID     *string `json:"signal_id"`
	StatusCode   int     `json:"status_code"`
	StatusDesc   string  `json:"status_desc"`
	Delay        *int64  `json:"delay"`
	Attempts     int     `json:"attempts"`
	Timestamp    string  `json:"timestamp"`
	DeviceType   string  `json:"device_type"`
	RunID        string  `json:"run_id"`
}

// RecordID is the dedup key of a record: device, device type and run time.
func RecordID(deviceID string, deviceType DeviceType, runAt time.Time) string {
	return fmt.Sprintf("%s_%s_%d", deviceID, deviceType, runAt.UTC().UnixMilli())
}

func NewRecord(b ProbeBatch, o ProbeOutcome) Record {
	r := Record{
		ID:           RecordID(o.Device.DeviceID, b.DeviceType, b.RunAt),
		IPAddress:    o.Device.IPAddress,
		DeviceID:     o.Device.DeviceID,
		KnackID:      optional(o.Device.KnackID),
		LocationName: optional(o.Device.LocationName),
		LocationID:   optional(o.Device.LocationID),
		SignalID:     optional(o.Device.SignalID),
		StatusCode:   o.Reason.Code(),
		StatusDesc:   string(o.Reason),
		Attempts:     o.Attempts,
		DeviceType:   string(b.DeviceType),
		RunID:        b.RunID,
	}
	if !o.Timestamp.IsZero() {
		r.Timestamp = o.Timestamp.UTC().Format(TimestampFormat)
	}
	if o.Latency != nil {
		ms := int64(math.Round(float64(*o.Latency) / float64(time.Millisecond)))
		r.Delay = &ms
	}
	return r
}

// Fields exposes the record as a field map for schema validation. Empty
// strings and nil pointers are reported as absent.
func (r Record) Fields() map[string]any {
	fields := map[string]any{
		"status_code": r.StatusCode,
		"attempts":    r.Attempts,
	}
	putString(fields, "id", r.ID)
	putString(fields, "ip_address", r.IPAddress)
	putString(fields, "device_id", r.DeviceID)
	putString(fields, "status_desc", r.StatusDesc)
	putString(fields, "timestamp", r.Timestamp)
	putString(fields, "device_type", r.DeviceType)
	putString(fields, "run_id", r.RunID)
	fields["knack_id"] = deref(r.KnackID)
	fields["location_name"] = deref(r.LocationName)
	fields["location_id"] = deref(r.LocationID)
	fields["signal_id"] = deref(r.SignalID)
	if r.Delay != nil {
		fields["delay"] = *r.Delay
	} else {
		fields["delay"] = nil
	}
	return fields
}

// PublishBatch is the validated subset of a run handed to a sink.
type PublishBatch struct {
	RunID      string     `json:"run_id"`
	RunAt      time.Time  `json:"run_at"`
	DeviceType DeviceType `json:"device_type"`
	Env        string     `json:"env"`
	Records    []Record   `json:"records"`
}

// Ack confirms a sink accepted a batch.
type Ack struct {
	Sink        string `json:"sink"`
	Destination string `json:"destination"`
	Records     int    `json:"records"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func putString(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}

// lessDeviceID puts all-digit ids first, ordered numerically, followed by
// every other id in lexical order.
func lessDeviceID(a, b string) bool {
	aDigits, bDigits := isDigits(a), isDigits(b)
	if aDigits != bDigits {
		return aDigits
	}
	if aDigits && len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
