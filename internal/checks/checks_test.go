package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atd/signal-comms/internal/domain"
)

type scriptedChecker struct {
	mu    sync.Mutex
	calls int
	steps []error
}

func (s *scriptedChecker) Check(ctx context.Context, host string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.calls
	s.calls++
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	if err := s.steps[idx]; err != nil {
		return 0, err
	}
	return 3 * time.Millisecond, nil
}

func (s *scriptedChecker) Type() Method { return "scripted" }

func (s *scriptedChecker) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type blockingChecker struct{}

func (blockingChecker) Check(ctx context.Context, host string) (time.Duration, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (blockingChecker) Type() Method { return "blocking" }

func newTestProber(c Checker) *Prober {
	return NewProber(c, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var camera = domain.DeviceSpec{DeviceType: domain.DeviceTypeCamera, DeviceID: "101", IPAddress: "10.66.1.20"}

func TestProbe_FirstAttemptSucceeds(t *testing.T) {
	checker := &scriptedChecker{steps: []error{nil}}

	outcome := newTestProber(checker).Probe(context.Background(), camera, time.Second, 3)

	assert.Equal(t, domain.StatusReachable, outcome.Status)
	assert.Equal(t, domain.ReasonOnline, outcome.Reason)
	assert.Equal(t, 1, outcome.Attempts)
	require.NotNil(t, outcome.Latency)
	assert.Equal(t, 3*time.Millisecond, *outcome.Latency)
	assert.Equal(t, 1, checker.Calls())
	assert.False(t, outcome.Timestamp.IsZero())
}

func TestProbe_RetriesUntilSuccess(t *testing.T) {
	checker := &scriptedChecker{steps: []error{ErrUnreachable, context.DeadlineExceeded, nil}}

	outcome := newTestProber(checker).Probe(context.Background(), camera, time.Second, 5)

	assert.Equal(t, domain.StatusReachable, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, checker.Calls())
}

func TestProbe_AlwaysTimesOut(t *testing.T) {
	outcome := newTestProber(blockingChecker{}).Probe(context.Background(), camera, 10*time.Millisecond, 3)

	assert.Equal(t, domain.StatusUnreachable, outcome.Status)
	assert.Equal(t, domain.ReasonTimeout, outcome.Reason)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Nil(t, outcome.Latency)
}

func TestProbe_MalformedAddressIsNotRetried(t *testing.T) {
	for _, addr := range []string{"", "10.0.0.999", "not an ip", "bad_host!"} {
		t.Run(fmt.Sprintf("%q", addr), func(t *testing.T) {
			checker := &scriptedChecker{steps: []error{nil}}
			device := camera
			device.IPAddress = addr

			outcome := newTestProber(checker).Probe(context.Background(), device, time.Second, 3)

			assert.Equal(t, domain.StatusError, outcome.Status)
			assert.Equal(t, domain.ReasonInvalidHostname, outcome.Reason)
			assert.Equal(t, 1, outcome.Attempts)
			assert.Nil(t, outcome.Latency)
			assert.Zero(t, checker.Calls())
		})
	}
}

func TestProbe_NonNetworkErrorStopsRetries(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason domain.Reason
	}{
		{name: "permission", err: fmt.Errorf("listen ip4:icmp: %w", os.ErrPermission), reason: domain.ReasonUnknownError},
		{name: "unknown", err: errors.New("boom"), reason: domain.ReasonUnknownError},
		{name: "dns not found", err: &net.DNSError{Err: "no such host", Name: "x.invalid", IsNotFound: true}, reason: domain.ReasonInvalidHostname},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &scriptedChecker{steps: []error{tt.err}}

			outcome := newTestProber(checker).Probe(context.Background(), camera, time.Second, 4)

			assert.Equal(t, domain.StatusError, outcome.Status)
			assert.Equal(t, tt.reason, outcome.Reason)
			assert.Equal(t, 1, outcome.Attempts)
			assert.Equal(t, 1, checker.Calls())
		})
	}
}

func TestProbe_CancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	outcome := newTestProber(blockingChecker{}).Probe(ctx, camera, 5*time.Second, 3)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.StatusError, outcome.Status)
	assert.Equal(t, domain.ReasonUnknownError, outcome.Reason)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Contains(t, outcome.Error, "probe interrupted")
}

func TestProbe_AlreadyCancelledMakesOneAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := &scriptedChecker{steps: []error{context.Canceled}}

	outcome := newTestProber(checker).Probe(ctx, camera, time.Second, 3)

	assert.Equal(t, 1, checker.Calls())
	assert.Equal(t, domain.StatusError, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestProbe_ZeroMaxAttemptsMakesOneAttempt(t *testing.T) {
	checker := &scriptedChecker{steps: []error{ErrUnreachable}}

	outcome := newTestProber(checker).Probe(context.Background(), camera, time.Second, 0)

	assert.Equal(t, domain.StatusUnreachable, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestClassify(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}

	assert.Equal(t, failureTransient, classify(refused))
	assert.Equal(t, failureTransient, classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.Equal(t, failureTransient, classify(&net.DNSError{Err: "server misbehaving", IsTemporary: true}))
	assert.Equal(t, failureInvalidAddress, classify(fmt.Errorf("%w: x", ErrInvalidAddress)))
	assert.Equal(t, failureFatal, classify(os.ErrPermission))
}

func TestNormalizeHostname(t *testing.T) {
	host, err := normalizeHostname(" 10.0.0.1 ")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)

	host, err = normalizeHostname("[2001:db8::1]")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", host)

	host, err = normalizeHostname("cam-101.signals.local")
	require.NoError(t, err)
	assert.Equal(t, "cam-101.signals.local", host)

	_, err = normalizeHostname("256.1.1.1")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestNewChecker(t *testing.T) {
	c, err := NewChecker(MethodICMP, false, 0)
	require.NoError(t, err)
	assert.Equal(t, MethodICMP, c.Type())

	c, err = NewChecker(MethodTCP, false, 443)
	require.NoError(t, err)
	assert.Equal(t, MethodTCP, c.Type())

	_, err = NewChecker("snmp", false, 0)
	assert.Error(t, err)
}
