package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"atd/signal-comms/internal/domain"
)

// Prober probes a single device. *checks.Prober satisfies it.
type Prober interface {
	Probe(ctx context.Context, device domain.DeviceSpec, timeout time.Duration, maxAttempts int) domain.ProbeOutcome
}

type ProberConfig struct {
	Timeout     time.Duration
	MaxAttempts int
}

// Coordinator fans a device list out to a bounded pool of probes and gathers
// exactly one outcome per distinct device.
type Coordinator struct {
	prober     Prober
	deviceType domain.DeviceType
	log        *slog.Logger
	now        func() time.Time
}

func NewCoordinator(prober Prober, deviceType domain.DeviceType, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		prober:     prober,
		deviceType: deviceType,
		log:        log,
		now:        time.Now,
	}
}

// RunAll probes every device with at most workerCount probes in flight. The
// returned batch is ordered by device id regardless of completion order.
func (c *Coordinator) RunAll(ctx context.Context, devices []domain.DeviceSpec, workerCount int, cfg ProberConfig) domain.ProbeBatch {
	runAt := c.now()
	if workerCount < 1 {
		workerCount = 1
	}

	unique := c.dedupe(devices)

	p := pool.NewWithResults[domain.ProbeOutcome]().WithMaxGoroutines(workerCount)
	for _, device := range unique {
		device := device
		p.Go(func() domain.ProbeOutcome {
			return c.probe(ctx, device, cfg)
		})
	}
	outcomes := p.Wait()

	batch := domain.NewProbeBatch(c.deviceType, runAt, outcomes)

	c.log.Debug("probed devices",
		"run_id", batch.RunID,
		"devices", len(batch.Outcomes),
		"workers", workerCount,
		"elapsed", c.now().Sub(runAt).String(),
	)

	return batch
}

func (c *Coordinator) probe(ctx context.Context, device domain.DeviceSpec, cfg ProberConfig) domain.ProbeOutcome {
	var outcome domain.ProbeOutcome

	var catcher panics.Catcher
	catcher.Try(func() {
		outcome = c.prober.Probe(ctx, device, cfg.Timeout, cfg.MaxAttempts)
	})

	if r := catcher.Recovered(); r != nil {
		c.log.Error("probe panicked", "device", device.String(), "panic", fmt.Sprint(r.Value))
		return domain.ProbeOutcome{
			Device:    device,
			Status:    domain.StatusError,
			Reason:    domain.ReasonUnknownError,
			Attempts:  1,
			Timestamp: c.now().UTC(),
			Error:     fmt.Sprintf("probe panicked: %v", r.Value),
		}
	}

	return outcome
}

// dedupe keeps the first device seen for each key.
func (c *Coordinator) dedupe(devices []domain.DeviceSpec) []domain.DeviceSpec {
	seen := make(map[string]struct{}, len(devices))
	unique := make([]domain.DeviceSpec, 0, len(devices))

	for _, d := range devices {
		if d.DeviceType == "" {
			d.DeviceType = c.deviceType
		}
		if _, ok := seen[d.Key()]; ok {
			c.log.Warn("duplicate device dropped", "device_id", d.DeviceID, "ip_address", d.IPAddress)
			continue
		}
		seen[d.Key()] = struct{}{}
		unique = append(unique, d)
	}

	return unique
}
