package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultInterval = 5 * time.Second

// Monitor tracks a single reachability flag and tells subscribers about every
// change, in subscription order.
type Monitor struct {
	probe    Probe
	interval time.Duration
	log      *slog.Logger

	notifyMu sync.Mutex

	mu        sync.Mutex
	reachable bool
	nextID    uint64
	subs      []subscriber
}

type subscriber struct {
	id uint64
	fn func(bool)
}

type Config struct {
	Interval time.Duration
	Initial  bool
	Logger   *slog.Logger
}

func New(probe Probe, cfg Config) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		probe:     probe,
		interval:  interval,
		log:       logger,
		reachable: cfg.Initial,
	}
}

// NewStatic returns a monitor that only changes through Set.
func NewStatic(reachable bool) *Monitor {
	return New(nil, Config{Initial: reachable})
}

func (m *Monitor) CurrentlyReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// OnChange registers fn and returns a release func. fn must not call Set.
func (m *Monitor) OnChange(fn func(bool)) func() {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			for i, s := range m.subs {
				if s.id == id {
					m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (m *Monitor) Set(reachable bool) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	if m.reachable == reachable {
		m.mu.Unlock()
		return
	}
	m.reachable = reachable
	subs := append([]subscriber(nil), m.subs...)
	m.mu.Unlock()

	m.log.Info("network reachability changed", "reachable", reachable)
	for _, s := range subs {
		s.fn(reachable)
	}
}

// Run probes until ctx is done. A nil probe makes Run block until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	if m.probe == nil {
		<-ctx.Done()
		return nil
	}

	m.Set(m.probe.Check(ctx))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Set(m.probe.Check(ctx))
		}
	}
}
