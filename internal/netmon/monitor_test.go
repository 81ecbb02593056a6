package netmon

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gnet "github.com/shirou/gopsutil/v3/net"
)

func TestSetNotifiesOnlyOnChange(t *testing.T) {
	m := NewStatic(true)
	var got []bool
	release := m.OnChange(func(v bool) { got = append(got, v) })
	defer release()

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)

	want := []bool{false, true}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected notifications %v, got %v", want, got)
	}
	if !m.CurrentlyReachable() {
		t.Fatalf("expected reachable after last Set(true)")
	}
}

func TestReleaseStopsNotifications(t *testing.T) {
	m := NewStatic(true)
	var first, second int
	releaseFirst := m.OnChange(func(bool) { first++ })
	releaseSecond := m.OnChange(func(bool) { second++ })
	defer releaseSecond()

	m.Set(false)
	releaseFirst()
	releaseFirst()
	m.Set(true)

	if first != 1 {
		t.Fatalf("expected released subscriber notified once, got %d", first)
	}
	if second != 2 {
		t.Fatalf("expected remaining subscriber notified twice, got %d", second)
	}
}

func TestRunPollsProbe(t *testing.T) {
	var reachable atomic.Bool
	reachable.Store(false)
	m := New(ProbeFunc(func(context.Context) bool { return reachable.Load() }), Config{Interval: 5 * time.Millisecond, Initial: true})

	changes := make(chan bool, 8)
	release := m.OnChange(func(v bool) { changes <- v })
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.Run(ctx)
	}()

	expectChange(t, changes, false)
	reachable.Store(true)
	expectChange(t, changes, true)

	cancel()
	wg.Wait()
}

func expectChange(t *testing.T, ch <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected change to %v, got %v", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change to %v", want)
	}
}

func TestRunWithoutProbeWaitsForContext(t *testing.T) {
	m := NewStatic(true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
}

func TestTCPProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()

	if !(TCPProbe{Addr: addr, Timeout: time.Second}).Check(context.Background()) {
		t.Fatalf("expected probe to reach listener")
	}
	_ = ln.Close()
	if (TCPProbe{Addr: addr, Timeout: 200 * time.Millisecond}).Check(context.Background()) {
		t.Fatalf("expected probe to fail after listener closed")
	}
}

func TestInterfaceProbe(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []gnet.InterfaceStat
		err    error
		want   bool
	}{
		{
			name: "loopback only",
			ifaces: []gnet.InterfaceStat{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: gnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
			},
		},
		{
			name: "ethernet down",
			ifaces: []gnet.InterfaceStat{
				{Name: "eth0", Flags: []string{"broadcast"}, Addrs: gnet.InterfaceAddrList{{Addr: "10.0.0.2/24"}}},
			},
		},
		{
			name: "ethernet up without address",
			ifaces: []gnet.InterfaceStat{
				{Name: "eth0", Flags: []string{"up", "broadcast"}},
			},
		},
		{
			name: "ethernet up",
			ifaces: []gnet.InterfaceStat{
				{Name: "lo", Flags: []string{"up", "loopback"}, Addrs: gnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}}},
				{Name: "eth0", Flags: []string{"up", "broadcast"}, Addrs: gnet.InterfaceAddrList{{Addr: "10.0.0.2/24"}}},
			},
			want: true,
		},
		{
			name: "listing fails",
			err:  errors.New("permission denied"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := InterfaceProbe{list: func(context.Context) ([]gnet.InterfaceStat, error) { return tt.ifaces, tt.err }}
			if got := p.Check(context.Background()); got != tt.want {
				t.Fatalf("Check() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAllProbes(t *testing.T) {
	pass := ProbeFunc(func(context.Context) bool { return true })
	fail := ProbeFunc(func(context.Context) bool { return false })
	if !(AllProbes{pass, pass}).Check(context.Background()) {
		t.Fatalf("expected all passing probes to pass")
	}
	if (AllProbes{pass, fail}).Check(context.Background()) {
		t.Fatalf("expected failing probe to fail the set")
	}
}
