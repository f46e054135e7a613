package uptime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/amartya2002/uptime-monitor/checks"
	"github.com/amartya2002/uptime-monitor/store"
)

// ===== Scheduler, Rotator, and Internals =====
func (m *Monitor) scheduler(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.startCycle(ctx)
		}
	}
}

func (m *Monitor) rotator(ctx context.Context) {
	defer m.loops.Done()
	ticker := time.NewTicker(m.rotationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.startRotation(ctx)
		}
	}
}

// startCycle runs a cycle in the background unless maxCycles are already in
// flight, in which case the tick is dropped. In-flight cycles finish even
// after the monitor is stopped.
func (m *Monitor) startCycle(ctx context.Context) bool {
	select {
	case m.cycleSlots <- struct{}{}:
	default:
		m.logger.Warn("Skipping check cycle, previous cycles still running",
			zap.Int("max_concurrent_cycles", m.maxCycles))
		return false
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() { <-m.cycleSlots }()
		m.RunAllChecksOnce(context.WithoutCancel(ctx))
	}()
	return true
}

// startRotation runs a rotation pass in the background unless one is
// already running.
func (m *Monitor) startRotation(ctx context.Context) bool {
	if !m.rotating.CompareAndSwap(false, true) {
		m.logger.Warn("Skipping log rotation, previous rotation still running")
		return false
	}
	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer m.rotating.Store(false)
		_, _ = m.RotateLogsOnce(context.WithoutCancel(ctx))
	}()
	return true
}

type checkResult int

const (
	resultInvalid checkResult = iota
	resultReadFailed
	resultWriteFailed
	resultUp
	resultDown
)

// RunAllChecksOnce runs every stored check once and returns when all of them
// have been persisted. Alerts may still be in flight. Canceling ctx does not
// cut the cycle short: a started run always completes and is recorded.
func (m *Monitor) RunAllChecksOnce(ctx context.Context) CycleReport {
	ctx = context.WithoutCancel(ctx)
	start := m.now()
	ids, err := m.checks.IDs(ctx)
	if err != nil {
		m.logger.Error("Could not list checks", zap.Error(err))
		return CycleReport{Err: err}
	}

	results := make([]checkResult, len(ids))
	alerts := make([]bool, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i], alerts[i] = m.runCheck(ctx, id)
		}(i, id)
	}
	wg.Wait()

	report := CycleReport{Listed: len(ids)}
	for i, r := range results {
		switch r {
		case resultInvalid:
			report.Invalid++
		case resultReadFailed:
			report.ReadFailed++
		case resultWriteFailed:
			report.Executed++
			report.WriteFailed++
		case resultUp:
			report.Executed++
			report.Up++
		case resultDown:
			report.Executed++
			report.Down++
		}
		if alerts[i] {
			report.Alerts++
		}
	}
	report.Duration = m.now().Sub(start)

	m.logger.Info("Check cycle finished",
		zap.Int("listed", report.Listed),
		zap.Int("executed", report.Executed),
		zap.Int("invalid", report.Invalid),
		zap.Int("read_failed", report.ReadFailed),
		zap.Int("write_failed", report.WriteFailed),
		zap.Int("up", report.Up),
		zap.Int("down", report.Down),
		zap.Int("alerts", report.Alerts),
		zap.Duration("duration", report.Duration))
	return report
}

// runCheck is the per-check pipeline: read, probe, write the new state,
// alert if warranted, then append to the log.
func (m *Monitor) runCheck(ctx context.Context, id string) (checkResult, bool) {
	c, err := m.checks.Get(ctx, id)
	if err != nil {
		var verr *checks.ValidationError
		if errors.As(err, &verr) {
			m.logger.Warn("Skipping invalid check", zap.String("check_id", id), zap.Error(err))
			return resultInvalid, false
		}
		m.logger.Error("Could not read check", zap.String("check_id", id), zap.Error(err))
		return resultReadFailed, false
	}

	outcome := m.probe(ctx, c)
	checkedAt := m.now().UnixMilli()

	// The stored record may have moved on while the probe ran; the state is
	// evaluated against whatever is current when the write lock is held. The
	// log entry is appended before that lock is released so a concurrent
	// delete cannot leave a stray log behind.
	var (
		snapshot checks.Check
		state    checks.State
		alert    bool
		result   checkResult
		logged   bool
	)
	_, err = m.checks.ModifyThen(ctx, id, func(cur *checks.Check) error {
		snapshot = *cur
		state, alert = Evaluate(cur.State, cur.HasPriorRun(), outcome, cur.SuccessCodes)
		cur.State = state
		cur.LastCheckedAt = &checkedAt
		return nil
	}, func(updated checks.Check, err error) {
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		result = resultDown
		if state == checks.StateUp {
			result = resultUp
		}
		switch {
		case err != nil:
			m.logger.Error("Could not save check outcome", zap.String("check_id", id), zap.Error(err))
			alert = false
			result = resultWriteFailed
		case alert:
			m.dispatchAlert(updated, state)
		default:
			m.logger.Debug("Check outcome has not changed, no alert needed", zap.String("check_id", id))
		}
		m.appendLog(LogEntry{
			Check:   snapshot,
			Outcome: outcome,
			State:   state,
			Alert:   alert,
			Time:    checkedAt,
		})
		logged = true
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		m.logger.Info("Check deleted while running, dropping outcome", zap.String("check_id", id))
		return resultReadFailed, false
	case err != nil && !logged:
		m.logger.Error("Could not reload check to save outcome", zap.String("check_id", id), zap.Error(err))
		return resultWriteFailed, false
	}
	return result, alert
}

func (m *Monitor) appendLog(entry LogEntry) {
	line, err := json.Marshal(entry)
	if err != nil {
		m.logger.Error("Could not encode log entry", zap.String("check_id", entry.Check.ID), zap.Error(err))
		return
	}
	if err := m.logs.Append(entry.Check.ID, line); err != nil {
		m.logger.Error("Could not append to check log", zap.String("check_id", entry.Check.ID), zap.Error(err))
	}
}

// RotateLogsOnce archives and truncates every active log. A failing log does
// not stop the others; all failures are returned together.
func (m *Monitor) RotateLogsOnce(ctx context.Context) (RotationReport, error) {
	var report RotationReport
	ids, err := m.logs.List(false)
	if err != nil {
		m.logger.Error("Could not list logs to rotate", zap.Error(err))
		return report, fmt.Errorf("list logs: %w", err)
	}

	var errs error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		rot, err := m.logs.Rotate(id)
		if err != nil {
			report.Failed++
			errs = multierr.Append(errs, fmt.Errorf("rotate %s: %w", id, err))
			m.logger.Error("Could not rotate log", zap.String("log_id", id), zap.Error(err))
			continue
		}
		if rot.Skipped {
			report.Skipped++
			continue
		}
		report.Rotated++
		report.Bytes += rot.Bytes
		m.logger.Debug("Log rotated",
			zap.String("log_id", id),
			zap.String("archive_id", rot.ArchiveID),
			zap.String("size", humanize.Bytes(uint64(rot.Bytes))))
	}

	m.logger.Info("Log rotation finished",
		zap.Int("rotated", report.Rotated),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.String("archived", humanize.Bytes(uint64(report.Bytes))))
	return report, errs
}
