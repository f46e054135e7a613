// Package uptime implements the monitoring engine: it probes every stored
// check on a fixed schedule, records state transitions, alerts owners and
// periodically archives execution logs.
package uptime

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amartya2002/uptime-monitor/checks"
	"github.com/amartya2002/uptime-monitor/logstore"
	"github.com/amartya2002/uptime-monitor/notify"
)

const (
	DefaultCheckInterval       = time.Minute
	DefaultRotationInterval    = 24 * time.Hour
	DefaultMaxConcurrentCycles = 2
	DefaultAlertPrefix         = "+1"
	defaultAlertTimeout        = 10 * time.Second
)

// CheckRepository is the record access the engine needs.
type CheckRepository interface {
	IDs(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id string) (checks.Check, error)
	ModifyThen(ctx context.Context, id string, fn func(c *checks.Check) error, after func(updated checks.Check, err error)) (checks.Check, error)
}

// LogStore is the execution history the engine appends to and rotates.
type LogStore interface {
	Append(id string, record []byte) error
	List(includeArchives bool) ([]string, error)
	Rotate(id string) (logstore.Rotation, error)
}

type Monitor struct {
	checks  CheckRepository
	logs    LogStore
	gateway notify.Gateway

	httpClient *http.Client
	now        func() time.Time

	checkInterval    time.Duration
	rotationInterval time.Duration
	maxCycles        int
	alertPrefix      string
	alertTimeout     time.Duration
	runOnStart       bool

	logger         *zap.Logger
	loggerExplicit bool // set when WithLogger used
	logLevel       zapcore.Level

	// logging configuration accumulated by options
	logConsoleOpt *bool
	logFilesOpt   []string
	logDisableOpt bool

	cycleSlots chan struct{}
	rotating   atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	loops    sync.WaitGroup
	inflight sync.WaitGroup
	alerts   sync.WaitGroup
}

// ===== Constructor =====
func New(repo CheckRepository, logs LogStore, opts ...Option) *Monitor {
	m := &Monitor{
		checks:           repo,
		logs:             logs,
		httpClient:       probeClient(nil),
		now:              time.Now,
		checkInterval:    DefaultCheckInterval,
		rotationInterval: DefaultRotationInterval,
		maxCycles:        DefaultMaxConcurrentCycles,
		alertPrefix:      DefaultAlertPrefix,
		alertTimeout:     defaultAlertTimeout,
		runOnStart:       true,
		logLevel:         zapcore.InfoLevel,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Build logger after options applied unless explicitly provided
	if !m.loggerExplicit {
		m.logger = m.buildLoggerFromConfig()
	}
	// Safety fallback
	if m.logger == nil {
		m.logger = defaultConsoleLogger()
	}
	if m.gateway == nil {
		m.gateway = notify.Log{Logger: m.logger}
	}
	m.cycleSlots = make(chan struct{}, m.maxCycles)
	return m
}

func defaultConsoleLogger() *zap.Logger {
	l, err := zap.NewProduction(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (m *Monitor) buildLoggerFromConfig() *zap.Logger {
	if m.logDisableOpt {
		return zap.NewNop()
	}

	// Determine console default: true unless explicitly set to false
	console := true
	if m.logConsoleOpt != nil {
		console = *m.logConsoleOpt
	}

	var paths []string
	seen := map[string]struct{}{}
	if console {
		paths = append(paths, "stdout")
		seen["stdout"] = struct{}{}
	}
	for _, f := range m.logFilesOpt {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		paths = append(paths, f)
	}

	if len(paths) == 0 {
		// No outputs selected: default to console
		return defaultConsoleLogger()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(m.logLevel)
	cfg.OutputPaths = paths
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// Logger returns the logger the monitor writes to, so the surrounding process
// can share it.
func (m *Monitor) Logger() *zap.Logger { return m.logger }

// ===== Public API =====

// Start launches the scheduler and rotation loops. Calling Start on a running
// monitor does nothing.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.runOnStart {
		m.startCycle(ctx)
		m.startRotation(ctx)
	}

	m.loops.Add(2)
	go m.scheduler(ctx)
	go m.rotator(ctx)
	m.logger.Info("Monitor started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Duration("rotation_interval", m.rotationInterval),
		zap.Int("max_concurrent_cycles", m.maxCycles))
}

// Stop ends both loops and waits for in-flight cycles, rotations and alerts.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		m.loops.Wait()
	}
	m.inflight.Wait()
	m.alerts.Wait()
	m.logger.Info("Monitor stopped")
	_ = m.logger.Sync()
}
