// Package uptime exposes configuration options for the Monitor via a
// functional options API.
package uptime

import (
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amartya2002/uptime-monitor/notify"
)

// ===== Options Pattern =====
type Option func(*Monitor)

// WithLogger allows injecting a custom zap logger (useful in tests).
func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
		m.loggerExplicit = l != nil
	}
}

// WithLogLevel sets the minimum level of the built-in logger.
func WithLogLevel(level zapcore.Level) Option {
	return func(m *Monitor) { m.logLevel = level }
}

// LogConsole enables or disables logging to stdout. Console logging is on
// unless turned off here.
func LogConsole(enabled bool) Option {
	return func(m *Monitor) { m.logConsoleOpt = &enabled }
}

// LogFile adds a file the built-in logger writes to.
func LogFile(path string) Option {
	return func(m *Monitor) { m.logFilesOpt = append(m.logFilesOpt, path) }
}

// DisableLogs turns the built-in logger into a no-op.
func DisableLogs() Option {
	return func(m *Monitor) { m.logDisableOpt = true }
}

// WithCheckInterval sets how often every check runs. Default 60s.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// WithRotationInterval sets how often logs are archived. Default 24h.
func WithRotationInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.rotationInterval = d
		}
	}
}

// WithMaxConcurrentCycles bounds how many scheduler cycles may be in flight.
// A tick that finds the bound reached is skipped.
func WithMaxConcurrentCycles(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.maxCycles = n
		}
	}
}

// WithGateway sets where alerts go. Without one alerts are only logged.
func WithGateway(g notify.Gateway) Option {
	return func(m *Monitor) { m.gateway = g }
}

// WithAlertPrefix sets the prefix joined with a check's ownerId to form the
// alert destination, e.g. a country calling code.
func WithAlertPrefix(prefix string) Option {
	return func(m *Monitor) { m.alertPrefix = prefix }
}

// WithAlertTimeout bounds a single alert delivery.
func WithAlertTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.alertTimeout = d
		}
	}
}

// WithHTTPClient sets the client used for probes. Its redirect policy is
// replaced: probes never follow redirects.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Monitor) { m.httpClient = probeClient(c) }
}

// WithClock replaces time.Now for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRunOnStart controls whether Start runs one cycle and one rotation
// immediately instead of waiting for the first tick. Default true.
func WithRunOnStart(enabled bool) Option {
	return func(m *Monitor) { m.runOnStart = enabled }
}
