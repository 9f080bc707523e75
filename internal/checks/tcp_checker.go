package checks

import (
	"context"
	"net"
	"strconv"
	"time"
)

const defaultTCPPort = 80

// TCPChecker treats a completed TCP handshake on a fixed port as reachability.
type TCPChecker struct {
	port int
}

func NewTCPChecker(port int) *TCPChecker {
	if port <= 0 {
		port = defaultTCPPort
	}

	return &TCPChecker{port: port}
}

func (t *TCPChecker) Check(ctx context.Context, host string) (time.Duration, error) {
	var dialer net.Dialer

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(t.port)))
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, err
	}
	rtt := time.Since(start)
	_ = conn.Close()

	return rtt, nil
}

func (t *TCPChecker) Type() Method {
	return MethodTCP
}
