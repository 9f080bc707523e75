package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atd/signal-comms/internal/domain"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProber struct {
	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	delay       time.Duration
	panicOn     string
}

func (f *fakeProber) Probe(_ context.Context, device domain.DeviceSpec, _ time.Duration, _ int) domain.ProbeOutcome {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if device.DeviceID == f.panicOn {
		panic("probe exploded")
	}

	if device.IPAddress == "" {
		return domain.ProbeOutcome{
			Device:    device,
			Status:    domain.StatusError,
			Reason:    domain.ReasonInvalidHostname,
			Attempts:  1,
			Timestamp: fixedNow,
		}
	}

	latency := time.Duration(len(device.DeviceID)) * time.Millisecond
	return domain.ProbeOutcome{
		Device:    device,
		Status:    domain.StatusReachable,
		Reason:    domain.ReasonOnline,
		Attempts:  1,
		Timestamp: fixedNow,
		Latency:   &latency,
	}
}

func makeDevices(n int) []domain.DeviceSpec {
	devices := make([]domain.DeviceSpec, 0, n)
	for i := n; i >= 1; i-- {
		devices = append(devices, domain.DeviceSpec{
			DeviceType: domain.DeviceTypeCamera,
			DeviceID:   fmt.Sprint(i),
			IPAddress:  fmt.Sprintf("10.1.%d.%d", i/250, i%250),
		})
	}
	return devices
}

func newTestCoordinator(prober Prober) *Coordinator {
	c := NewCoordinator(prober, domain.DeviceTypeCamera, discardLogger())
	c.now = func() time.Time { return fixedNow }
	return c
}

func deviceIDs(batch domain.ProbeBatch) []string {
	ids := make([]string, 0, len(batch.Outcomes))
	for _, o := range batch.Outcomes {
		ids = append(ids, o.Device.DeviceID)
	}
	return ids
}

func TestRunAll_OneOutcomePerDevice(t *testing.T) {
	prober := &fakeProber{}
	devices := makeDevices(120)

	batch := newTestCoordinator(prober).RunAll(context.Background(), devices, 8, ProberConfig{Timeout: time.Second, MaxAttempts: 2})

	require.Len(t, batch.Outcomes, 120)
	assert.EqualValues(t, 120, prober.calls.Load())

	seen := make(map[string]bool)
	for i, o := range batch.Outcomes {
		assert.False(t, seen[o.Device.DeviceID], "device %s reported twice", o.Device.DeviceID)
		seen[o.Device.DeviceID] = true
		assert.Equal(t, fmt.Sprint(i+1), o.Device.DeviceID)
	}
	assert.Equal(t, domain.DeviceTypeCamera, batch.DeviceType)
	assert.Equal(t, fixedNow, batch.RunAt)
}

func TestRunAll_EmptyInput(t *testing.T) {
	batch := newTestCoordinator(&fakeProber{}).RunAll(context.Background(), nil, 4, ProberConfig{Timeout: time.Second, MaxAttempts: 1})

	assert.Empty(t, batch.Outcomes)
	assert.NotEmpty(t, batch.RunID)
}

func TestRunAll_DropsDuplicateDevices(t *testing.T) {
	prober := &fakeProber{}
	devices := []domain.DeviceSpec{
		{DeviceType: domain.DeviceTypeCamera, DeviceID: "2", IPAddress: "10.0.0.2"},
		{DeviceType: domain.DeviceTypeCamera, DeviceID: "1", IPAddress: "10.0.0.1"},
		{DeviceType: domain.DeviceTypeCamera, DeviceID: "2", IPAddress: "10.0.0.99"},
		{DeviceID: "1", IPAddress: "10.0.0.98"},
	}

	batch := newTestCoordinator(prober).RunAll(context.Background(), devices, 4, ProberConfig{Timeout: time.Second, MaxAttempts: 1})

	assert.Equal(t, []string{"1", "2"}, deviceIDs(batch))
	assert.Equal(t, "10.0.0.1", batch.Outcomes[0].Device.IPAddress)
	assert.Equal(t, "10.0.0.2", batch.Outcomes[1].Device.IPAddress)
	assert.EqualValues(t, 2, prober.calls.Load())
}

func TestRunAll_RespectsWorkerCount(t *testing.T) {
	prober := &fakeProber{delay: 5 * time.Millisecond}

	batch := newTestCoordinator(prober).RunAll(context.Background(), makeDevices(40), 3, ProberConfig{Timeout: time.Second, MaxAttempts: 1})

	require.Len(t, batch.Outcomes, 40)
	assert.LessOrEqual(t, prober.maxInFlight.Load(), int64(3))
	assert.GreaterOrEqual(t, prober.maxInFlight.Load(), int64(1))
}

func TestRunAll_WorkerCountDoesNotChangeResult(t *testing.T) {
	devices := makeDevices(60)
	cfg := ProberConfig{Timeout: time.Second, MaxAttempts: 2}

	serial := newTestCoordinator(&fakeProber{}).RunAll(context.Background(), devices, 1, cfg)
	parallel := newTestCoordinator(&fakeProber{delay: time.Millisecond}).RunAll(context.Background(), devices, 50, cfg)

	assert.Equal(t, serial, parallel)
	assert.Equal(t, serial.Records(), parallel.Records())
}

func TestRunAll_ZeroWorkersStillProbes(t *testing.T) {
	batch := newTestCoordinator(&fakeProber{}).RunAll(context.Background(), makeDevices(3), 0, ProberConfig{Timeout: time.Second, MaxAttempts: 1})

	assert.Len(t, batch.Outcomes, 3)
}

func TestRunAll_PanickingProbeBecomesError(t *testing.T) {
	prober := &fakeProber{panicOn: "3"}

	batch := newTestCoordinator(prober).RunAll(context.Background(), makeDevices(5), 2, ProberConfig{Timeout: time.Second, MaxAttempts: 1})

	require.Len(t, batch.Outcomes, 5)
	for _, o := range batch.Outcomes {
		if o.Device.DeviceID == "3" {
			assert.Equal(t, domain.StatusError, o.Status)
			assert.Equal(t, domain.ReasonUnknownError, o.Reason)
			assert.Equal(t, 1, o.Attempts)
			assert.Contains(t, o.Error, "probe exploded")
			continue
		}
		assert.Equal(t, domain.StatusReachable, o.Status)
	}
}
