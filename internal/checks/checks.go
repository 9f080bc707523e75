package checks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"atd/signal-comms/internal/domain"
)

var (
	// ErrInvalidAddress marks a device address that can never be probed.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrUnreachable marks an attempt that completed without a reply.
	ErrUnreachable = errors.New("host unreachable")
)

type Method string

const (
	MethodICMP Method = "icmp"
	MethodTCP  Method = "tcp"
)

// Checker performs a single reachability attempt. The context carries the
// attempt deadline; the returned duration is the observed round trip.
type Checker interface {
	Check(ctx context.Context, host string) (time.Duration, error)
	Type() Method
}

func NewChecker(method Method, privileged bool, tcpPort int) (Checker, error) {
	switch method {
	case MethodICMP, "":
		return NewPingChecker(privileged), nil
	case MethodTCP:
		return NewTCPChecker(tcpPort), nil
	}
	return nil, fmt.Errorf("unknown probe method %q", method)
}

// Prober probes one device with bounded retries.
type Prober struct {
	checker Checker
	log     *slog.Logger
	now     func() time.Time
}

func NewProber(checker Checker, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	return &Prober{
		checker: checker,
		log:     log,
		now:     time.Now,
	}
}

// Probe attempts the device up to maxAttempts times, each attempt bounded by
// timeout. Timeouts and unreachable hosts are retried; any other failure ends
// probing at once with StatusError. Cancelling ctx stops retries and reports
// StatusError with the attempts made so far.
func (p *Prober) Probe(ctx context.Context, device domain.DeviceSpec, timeout time.Duration, maxAttempts int) domain.ProbeOutcome {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	host, err := normalizeHostname(device.IPAddress)
	if err != nil {
		return p.failed(device, domain.ReasonInvalidHostname, 1, err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		latency, err := p.attempt(ctx, host, timeout)
		if err == nil {
			p.log.Debug("probe succeeded",
				"device", device.String(),
				"attempt", attempt,
				"latency", formatMilliseconds(latency),
			)
			return domain.ProbeOutcome{
				Device:    device,
				Status:    domain.StatusReachable,
				Reason:    domain.ReasonOnline,
				Attempts:  attempt,
				Timestamp: p.now().UTC(),
				Latency:   &latency,
			}
		}

		if ctx.Err() != nil {
			return p.failed(device, domain.ReasonUnknownError, attempt, fmt.Errorf("probe interrupted: %w", ctx.Err()))
		}

		switch classify(err) {
		case failureTransient:
			lastErr = err
			p.log.Debug("probe attempt failed", "device", device.String(), "attempt", attempt, "error", err.Error())
		case failureInvalidAddress:
			return p.failed(device, domain.ReasonInvalidHostname, attempt, err)
		default:
			return p.failed(device, domain.ReasonUnknownError, attempt, err)
		}
	}

	p.log.Warn("probe failed",
		"device", device.String(),
		"reason", domain.ReasonTimeout,
		"attempts", maxAttempts,
	)

	outcome := domain.ProbeOutcome{
		Device:    device,
		Status:    domain.StatusUnreachable,
		Reason:    domain.ReasonTimeout,
		Attempts:  maxAttempts,
		Timestamp: p.now().UTC(),
	}
	if lastErr != nil {
		outcome.Error = lastErr.Error()
	}
	return outcome
}

func (p *Prober) attempt(ctx context.Context, host string, timeout time.Duration) (time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return p.checker.Check(attemptCtx, host)
}

func (p *Prober) failed(device domain.DeviceSpec, reason domain.Reason, attempts int, err error) domain.ProbeOutcome {
	p.log.Warn("probe failed",
		"device", device.String(),
		"reason", reason,
		"code", reason.Code(),
		"error", err.Error(),
	)

	return domain.ProbeOutcome{
		Device:    device,
		Status:    domain.StatusError,
		Reason:    reason,
		Attempts:  attempts,
		Timestamp: p.now().UTC(),
		Error:     err.Error(),
	}
}

type failureKind int

const (
	failureTransient failureKind = iota
	failureInvalidAddress
	failureFatal
)

func classify(err error) failureKind {
	if errors.Is(err, ErrInvalidAddress) {
		return failureInvalidAddress
	}
	if errors.Is(err, os.ErrPermission) {
		return failureFatal
	}
	if errors.Is(err, ErrUnreachable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return failureTransient
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return failureInvalidAddress
		}
		return failureTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return failureTransient
	}

	return failureFatal
}
