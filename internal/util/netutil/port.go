// Package netutil provides TCP reachability checks used by the provisioning gate.
package netutil

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single connection attempt.
const DefaultDialTimeout = 2 * time.Second

// CheckPort makes one TCP connection attempt to ip:port.
func CheckPort(ctx context.Context, ip string, port int, dialTimeout time.Duration) error {
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
