package checks

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/go-ping/ping"
)

const defaultPingTimeout = 20 * time.Second

// PingChecker sends a single ICMP echo request per attempt.
type PingChecker struct {
	privileged bool
	resolver   *net.Resolver
}

// NewPingChecker returns an ICMP checker. Unprivileged mode uses UDP ping
// sockets and needs net.ipv4.ping_group_range to include the process group.
func NewPingChecker(privileged bool) *PingChecker {
	return &PingChecker{privileged: privileged, resolver: net.DefaultResolver}
}

func (p *PingChecker) Check(ctx context.Context, host string) (time.Duration, error) {
	timeout := defaultPingTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}

	addr, err := p.resolve(ctx, host)
	if err != nil {
		return 0, err
	}

	pinger, err := ping.NewPinger(addr)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.privileged)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return 0, ErrUnreachable
	}

	return stats.AvgRtt, nil
}

// resolve looks host up under ctx so a slow resolver counts against the
// attempt deadline. IPv4 addresses are preferred.
func (p *PingChecker) resolve(ctx context.Context, host string) (string, error) {
	addrs, err := p.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("resolve %s: %w", host, ErrInvalidAddress)
	}

	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return addr.IP.String(), nil
		}
	}
	return addrs[0].IP.String(), nil
}

func (p *PingChecker) Type() Method {
	return MethodICMP
}
