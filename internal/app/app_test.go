package app

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"myaccountapp/account-client/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, probeAddr string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		HTTP: config.HTTPConfig{
			Addr:            "127.0.0.1:0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: 2 * time.Second,
		},
		Backend: config.BackendConfig{
			BaseURL:        "http://127.0.0.1:1",
			APIKey:         "test-key",
			RequestTimeout: time.Second,
		},
		ProfileStateFile: filepath.Join(dir, "profiles.json"),
		SessionStateFile: filepath.Join(dir, "session.json"),
		AuditLogFile:     filepath.Join(dir, "audit.log"),
		Retry:            config.RetryConfig{MaxAttempts: 3, Delay: 10 * time.Millisecond},
		Network: config.NetworkConfig{
			ProbeAddr:     probeAddr,
			ProbeTimeout:  time.Second,
			ProbeInterval: time.Hour,
		},
		Bridge: config.BridgeConfig{RatePerMinute: 10, RateBurst: 5},
	}
}

func TestNewMonitorInitialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	up := newMonitor(config.NetworkConfig{ProbeAddr: ln.Addr().String(), ProbeTimeout: time.Second, ProbeInterval: time.Hour}, discardLogger())
	if !up.CurrentlyReachable() {
		t.Fatalf("expected reachable with listening probe address")
	}

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := closed.Addr().String()
	_ = closed.Close()
	down := newMonitor(config.NetworkConfig{ProbeAddr: addr, ProbeTimeout: time.Second, ProbeInterval: time.Hour}, discardLogger())
	if down.CurrentlyReachable() {
		t.Fatalf("expected unreachable with closed probe address")
	}

	static := newMonitor(config.NetworkConfig{ProbeTimeout: time.Second, ProbeInterval: time.Hour}, discardLogger())
	if !static.CurrentlyReachable() {
		t.Fatalf("expected static monitor to assume reachable")
	}
}

func TestNewWiresFileStoresAndRunsUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	a, err := New(testConfig(t, ln.Addr().String()), discardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if a.db != nil {
		t.Fatalf("expected no database without DATABASE_URL")
	}
	state := a.coordinator.Snapshot()
	if state.Session != nil || !state.NetworkAvailable {
		t.Fatalf("unexpected initial state: %+v", state)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" http://a , ,http://b")
	if len(got) != 2 || got[0] != "http://a" || got[1] != "http://b" {
		t.Fatalf("unexpected split result %v", got)
	}
	if splitList("") != nil {
		t.Fatalf("expected nil for empty input")
	}
}
