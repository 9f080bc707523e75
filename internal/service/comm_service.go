package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"atd/signal-comms/internal/domain"
	"atd/signal-comms/internal/lib/logger/sl"
	"atd/signal-comms/internal/repository"
	"atd/signal-comms/internal/validate"
)

var (
	ErrNoDevices    = errors.New("registry returned no devices")
	ErrNoUsableData = errors.New("run produced no publishable records")
)

// Spool stores batches that could not be persisted so a later run can retry
// them. *sqlite.Store satisfies it.
type Spool interface {
	SavePending(ctx context.Context, batch domain.PublishBatch, cause error) error
	PendingBatches(ctx context.Context, deviceType domain.DeviceType) ([]domain.PublishBatch, error)
	DeletePending(ctx context.Context, runID string) error
}

type Config struct {
	DeviceType domain.DeviceType
	// Env is the data environment written into published batches.
	Env      string
	Workers  int
	Probe    ProberConfig
	Interval time.Duration
}

// CommService runs the fetch, probe, validate and persist cycle for one
// device type.
type CommService struct {
	devices     repository.DeviceRepository
	sinks       *repository.MultiResultRepository
	spool       Spool
	coordinator *Coordinator
	schema      validate.Schema
	cfg         Config
	log         *slog.Logger

	mu        sync.RWMutex
	isRunning bool
	lastRun   *domain.RunReport
}

func NewCommService(
	devices repository.DeviceRepository,
	prober Prober,
	sinks []repository.ResultRepository,
	spool Spool,
	cfg Config,
	log *slog.Logger,
) *CommService {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	log = log.With(slog.String("device_type", string(cfg.DeviceType)))

	return &CommService{
		devices:     devices,
		sinks:       repository.NewMultiResultRepository(sinks...),
		spool:       spool,
		coordinator: NewCoordinator(prober, cfg.DeviceType, log),
		schema:      validate.CommStatusSchema(),
		cfg:         cfg,
		log:         log,
	}
}

// Start runs once immediately and then on every interval tick until ctx is
// done. Failed runs are logged and do not stop the loop.
func (s *CommService) Start(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("interval must be positive to start the service loop")
	}

	s.setRunning(true)
	defer s.setRunning(false)

	s.log.Info("comm service started",
		"interval", s.cfg.Interval.String(),
		"workers", s.cfg.Workers,
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil {
			s.log.Error("run failed", sl.Err(err))
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			s.log.Info("comm service stopped")
			return nil
		}
	}
}

// Run performs one complete cycle. A registry failure aborts the run before
// any device is probed.
func (s *CommService) Run(ctx context.Context) (domain.RunReport, error) {
	s.flushSpool(ctx)

	report := domain.RunReport{DeviceType: s.cfg.DeviceType, StartedAt: time.Now().UTC()}
	err := s.run(ctx, &report)
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun = &report
	s.mu.Unlock()

	return report, err
}

func (s *CommService) run(ctx context.Context, report *domain.RunReport) error {
	s.log.Info("fetching devices")

	devices, err := s.devices.FetchDevices(ctx, s.cfg.DeviceType)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return ErrNoDevices
	}

	s.log.Info("probing devices", "devices", len(devices), "workers", s.cfg.Workers)

	batch := s.coordinator.RunAll(ctx, devices, s.cfg.Workers, s.cfg.Probe)
	report.RunID = batch.RunID
	report.Devices = len(batch.Outcomes)
	report.Summary = batch.Summary()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}

	result := validate.Validate(batch.Records(), s.schema)
	report.Accepted = len(result.Accepted)
	report.Rejected = result.RejectedRecords()

	for _, fe := range result.Rejected {
		s.log.Warn("record rejected",
			"record_id", fe.RecordID,
			"field", fe.Field,
			"reason", fe.Reason,
		)
	}

	s.logSummary(batch, report)

	if len(result.Accepted) == 0 {
		return ErrNoUsableData
	}

	publish := domain.PublishBatch{
		RunID:      batch.RunID,
		RunAt:      batch.RunAt,
		DeviceType: batch.DeviceType,
		Env:        s.cfg.Env,
		Records:    result.Accepted,
	}

	acks, err := s.sinks.PersistAll(ctx, publish)
	report.Acks = acks
	if err != nil {
		if s.spool != nil {
			if spoolErr := s.spool.SavePending(ctx, publish, err); spoolErr != nil {
				s.log.Error("failed to spool batch", "run_id", publish.RunID, sl.Err(spoolErr))
			} else {
				report.Spooled = true
				s.log.Warn("batch spooled for retry", "run_id", publish.RunID, "records", len(publish.Records))
			}
		}
		return fmt.Errorf("persist run %s: %w", publish.RunID, err)
	}

	for _, ack := range acks {
		s.log.Info("batch persisted",
			"sink", ack.Sink,
			"destination", ack.Destination,
			"records", ack.Records,
		)
	}

	return nil
}

// flushSpool re-persists batches left over from earlier failed runs.
func (s *CommService) flushSpool(ctx context.Context) {
	if s.spool == nil {
		return
	}

	pending, err := s.spool.PendingBatches(ctx, s.cfg.DeviceType)
	if err != nil {
		s.log.Error("failed to read spool", sl.Err(err))
		return
	}

	for _, batch := range pending {
		if _, err := s.sinks.PersistAll(ctx, batch); err != nil {
			s.log.Warn("spooled batch still failing", "run_id", batch.RunID, sl.Err(err))
			if err := s.spool.SavePending(ctx, batch, err); err != nil {
				s.log.Error("failed to update spool", "run_id", batch.RunID, sl.Err(err))
			}
			continue
		}

		if err := s.spool.DeletePending(ctx, batch.RunID); err != nil {
			s.log.Error("failed to clear spooled batch", "run_id", batch.RunID, sl.Err(err))
			continue
		}
		s.log.Info("spooled batch persisted", "run_id", batch.RunID, "records", len(batch.Records))
	}
}

func (s *CommService) logSummary(batch domain.ProbeBatch, report *domain.RunReport) {
	attrs := []any{
		"run_id", batch.RunID,
		"devices", report.Devices,
		"accepted", report.Accepted,
		"rejected", report.Rejected,
	}
	for _, reason := range domain.Reasons() {
		if n := report.Summary[reason]; n > 0 {
			attrs = append(attrs, string(reason), n)
		}
	}
	s.log.Info("run summary", attrs...)
}

func (s *CommService) setRunning(running bool) {
	s.mu.Lock()
	s.isRunning = running
	s.mu.Unlock()
}

// LastRun returns the report of the most recent run, if any.
func (s *CommService) LastRun() (domain.RunReport, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastRun == nil {
		return domain.RunReport{}, false
	}
	return *s.lastRun, true
}

func (s *CommService) HealthCheck(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return fmt.Errorf("service is not running")
	}
	return nil
}

// Ready reports whether the last run completed without error.
func (s *CommService) Ready(ctx context.Context) error {
	if err := s.HealthCheck(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastRun == nil {
		return fmt.Errorf("no run completed yet")
	}
	if s.lastRun.Error != "" {
		return fmt.Errorf("last run failed: %s", s.lastRun.Error)
	}
	return nil
}

func (s *CommService) DeviceType() domain.DeviceType {
	return s.cfg.DeviceType
}

func (s *CommService) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := map[string]interface{}{
		"device_type":  s.cfg.DeviceType,
		"is_running":   s.isRunning,
		"interval":     s.cfg.Interval.String(),
		"workers":      s.cfg.Workers,
		"max_attempts": s.cfg.Probe.MaxAttempts,
		"timeout":      s.cfg.Probe.Timeout.String(),
		"sinks":        s.sinks.Names(),
	}
	if s.lastRun != nil {
		status["last_run_id"] = s.lastRun.RunID
		status["last_run_at"] = s.lastRun.StartedAt
		status["last_run_error"] = s.lastRun.Error
	}
	return status
}
