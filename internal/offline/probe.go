package offline

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/skaphos/vaultkeeper/internal/gitx"
	"github.com/skaphos/vaultkeeper/internal/syncerr"
)

// DefaultProbeAddress is dialed when no host can be derived from the remote.
const DefaultProbeAddress = "github.com:443"

// DefaultProbeTimeout bounds a single probe dial.
const DefaultProbeTimeout = 5 * time.Second

// ProbeAddress picks the host:port to dial for a remote URL. A non-empty
// override always wins; remotes without a network host fall back to
// DefaultProbeAddress.
func ProbeAddress(remoteURL, override string) string {
	if override != "" {
		return override
	}
	if addr := gitx.ProbeAddress(remoteURL); addr != "" {
		return addr
	}
	return DefaultProbeAddress
}

// Prober dials an address to decide whether the network is usable.
type Prober struct {
	Address string
	Timeout time.Duration
	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Probe returns a connectivity error when the address cannot be reached in time.
func (p *Prober) Probe(ctx context.Context) error {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	addr := p.Address
	if addr == "" {
		addr = DefaultProbeAddress
	}
	dial := p.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return syncerr.Connectivity(fmt.Sprintf("probe %s", addr), err)
	}
	_ = conn.Close()
	return nil
}
