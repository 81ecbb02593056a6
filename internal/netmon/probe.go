package netmon

import (
	"context"
	"net"
	"slices"
	"time"

	gnet "github.com/shirou/gopsutil/v3/net"
)

type Probe interface {
	Check(ctx context.Context) bool
}

type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) Check(ctx context.Context) bool {
	return f(ctx)
}

// AllProbes passes only when every probe passes. Probes run in order and stop
// at the first failure.
type AllProbes []Probe

func (p AllProbes) Check(ctx context.Context) bool {
	for _, probe := range p {
		if !probe.Check(ctx) {
			return false
		}
	}
	return true
}

// TCPProbe dials Addr (host:port).
type TCPProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProbe) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// InterfaceProbe passes when some non-loopback interface is up and has an
// address.
type InterfaceProbe struct {
	list func(ctx context.Context) ([]gnet.InterfaceStat, error)
}

func NewInterfaceProbe() InterfaceProbe {
	return InterfaceProbe{list: listInterfaces}
}

func listInterfaces(ctx context.Context) ([]gnet.InterfaceStat, error) {
	return gnet.InterfacesWithContext(ctx)
}

func (p InterfaceProbe) Check(ctx context.Context) bool {
	list := p.list
	if list == nil {
		list = listInterfaces
	}
	ifaces, err := list(ctx)
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		if len(iface.Addrs) > 0 {
			return true
		}
	}
	return false
}
