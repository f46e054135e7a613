package uptime_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/amartya2002/uptime-monitor/checks"
	"github.com/amartya2002/uptime-monitor/logstore"
	"github.com/amartya2002/uptime-monitor/store/filestore"
	up "github.com/amartya2002/uptime-monitor/uptime"
)

const ownerID = "5551234567"

var fixedNow = time.UnixMilli(1790000000000)

type sentMessage struct {
	To   string
	Body string
}

type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (g *recordingGateway) Send(_ context.Context, to, body string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{To: to, Body: body})
	return g.err
}

func (g *recordingGateway) messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

type harness struct {
	store   *filestore.FileStore
	repo    *checks.Repository
	logs    *logstore.Store
	gateway *recordingGateway
	logger  *zap.Logger
	obs     *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	fs, err := filestore.New(filepath.Join(dir, "data"))
	require.NoError(t, err)
	logs, err := logstore.New(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	core, obs := observer.New(zap.DebugLevel)
	return &harness{
		store:   fs,
		repo:    checks.NewRepository(fs, checks.Schema{}, logs),
		logs:    logs,
		gateway: &recordingGateway{},
		logger:  zap.New(core),
		obs:     obs,
	}
}

func (h *harness) monitor(opts ...up.Option) *up.Monitor {
	base := []up.Option{
		up.WithLogger(h.logger),
		up.WithGateway(h.gateway),
		up.WithClock(func() time.Time { return fixedNow }),
		up.WithRunOnStart(false),
	}
	return up.New(h.repo, h.logs, append(base, opts...)...)
}

// addCheck stores a check probing serverURL. When lastCheckedAt is non-zero
// the check looks like it has already run once.
func (h *harness) addCheck(t *testing.T, serverURL string, state checks.State, lastCheckedAt int64, codes ...int) checks.Check {
	t.Helper()
	protocol, rest, ok := strings.Cut(serverURL, "://")
	require.True(t, ok)
	ctx := context.Background()
	c, err := h.repo.Create(ctx, checks.Check{
		OwnerID:        ownerID,
		Protocol:       checks.Protocol(protocol),
		URL:            rest,
		Method:         checks.MethodGet,
		SuccessCodes:   codes,
		TimeoutSeconds: 3,
	})
	require.NoError(t, err)
	if lastCheckedAt == 0 && state == checks.StateDown {
		return c
	}
	c, err = h.repo.Modify(ctx, c.ID, func(c *checks.Check) error {
		c.State = state
		if lastCheckedAt != 0 {
			c.LastCheckedAt = &lastCheckedAt
		}
		return nil
	})
	require.NoError(t, err)
	return c
}

func (h *harness) entries(t *testing.T, id string) []up.LogEntry {
	t.Helper()
	raw, err := h.logs.Read(id)
	require.NoError(t, err)
	var out []up.LogEntry
	for _, line := range bytes.Split(bytes.TrimSpace(raw), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e up.LogEntry
		require.NoError(t, json.Unmarshal(line, &e))
		out = append(out, e)
	}
	return out
}

func statusServer(code int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	}))
}

// A check that was down and comes back up is persisted as up and its owner
// is told about it.
func TestRecoveryIsPersistedAndAlerted(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 1, 200)
	m := h.monitor(up.WithHTTPClient(ts.Client()))

	report := m.RunAllChecksOnce(context.Background())
	m.Stop()

	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Up)
	assert.Equal(t, 1, report.Alerts)

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateUp, stored.State)
	require.NotNil(t, stored.LastCheckedAt)
	assert.Equal(t, fixedNow.UnixMilli(), *stored.LastCheckedAt)

	assert.Equal(t, []sentMessage{{
		To:   "+1" + ownerID,
		Body: "Alert: your check for GET " + ts.URL + " is currently up",
	}}, h.gateway.messages())

	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, 200, entries[0].Outcome.StatusCode)
	assert.Equal(t, checks.StateUp, entries[0].State)
	assert.True(t, entries[0].Alert)
	assert.Equal(t, checks.StateDown, entries[0].Check.State, "log keeps the record as it was before the run")
}

func TestUnexpectedStatusStaysDownWithoutAlert(t *testing.T) {
	ts := statusServer(http.StatusServiceUnavailable)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 1, 200)
	m := h.monitor()

	report := m.RunAllChecksOnce(context.Background())
	m.Stop()

	assert.Equal(t, 1, report.Down)
	assert.Empty(t, h.gateway.messages())

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateDown, stored.State)
	assert.Equal(t, fixedNow.UnixMilli(), *stored.LastCheckedAt)

	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, 503, entries[0].Outcome.StatusCode)
	assert.False(t, entries[0].Alert)
}

func TestInvalidRecordIsSkipped(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	good := h.addCheck(t, ts.URL, checks.StateDown, 0, 200)

	badID := "9f0c5e43-52a4-4d6f-8a43-2f1d6f0e8b7a"
	bad := `{"id":"` + badID + `","ownerId":"5551234567","protocol":"http","url":"example.com",` +
		`"successCodes":[200],"timeoutSeconds":3}`
	require.NoError(t, h.store.Create(context.Background(), checks.Collection, badID, []byte(bad)))

	m := h.monitor()
	report := m.RunAllChecksOnce(context.Background())
	m.Stop()

	assert.Equal(t, 2, report.Listed)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 1, report.Executed)

	skipped := h.obs.FilterMessage("Skipping invalid check").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, badID, skipped[0].ContextMap()["check_id"])

	assert.Len(t, h.entries(t, good.ID), 1)
	_, err := h.logs.Read(badID)
	assert.ErrorIs(t, err, logstore.ErrNotFound)
}

func TestFirstRunNeverAlerts(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	m := h.monitor()

	report := m.RunAllChecksOnce(context.Background())
	m.Stop()

	assert.Equal(t, 1, report.Up)
	assert.Zero(t, report.Alerts)
	assert.Empty(t, h.gateway.messages())

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateUp, stored.State)
	assert.True(t, stored.HasPriorRun())
}

func TestRedirectsAreNotFollowed(t *testing.T) {
	var followed atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		followed.Store(true)
		w.WriteHeader(http.StatusOK)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL+"/old", checks.StateDown, 0, 302)
	m := h.monitor(up.WithHTTPClient(&http.Client{}))

	m.RunAllChecksOnce(context.Background())
	m.Stop()

	assert.False(t, followed.Load())
	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, http.StatusFound, entries[0].Outcome.StatusCode)
	assert.Equal(t, checks.StateUp, entries[0].State)
}

func TestHungServerTimesOut(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateUp, 1, 200)
	_, err := h.repo.Modify(context.Background(), c.ID, func(c *checks.Check) error {
		c.TimeoutSeconds = 1
		return nil
	})
	require.NoError(t, err)
	m := h.monitor()

	start := time.Now()
	report := m.RunAllChecksOnce(context.Background())
	m.Stop()
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Equal(t, 1, report.Down)
	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, up.FailureTimeout, entries[0].Outcome.Failure)
	assert.True(t, entries[0].Alert)
	assert.Len(t, h.gateway.messages(), 1)
}

func TestUnreachableHostIsConnectionError(t *testing.T) {
	ts := statusServer(http.StatusOK)
	url := ts.URL
	ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, url, checks.StateDown, 0, 200)
	m := h.monitor()

	m.RunAllChecksOnce(context.Background())
	m.Stop()

	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, up.FailureConnection, entries[0].Outcome.Failure)
	assert.NotEmpty(t, entries[0].Outcome.Error)
	assert.Equal(t, checks.StateDown, entries[0].State)
}

// An edit made while a probe is in flight survives the engine's write, and
// the outcome is judged against the edited success codes.
func TestEditDuringProbeIsPreserved(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 1, 200)
	m := h.monitor()

	done := make(chan up.CycleReport, 1)
	go func() { done <- m.RunAllChecksOnce(context.Background()) }()

	<-arrived
	_, err := h.repo.Modify(context.Background(), c.ID, func(c *checks.Check) error {
		c.SuccessCodes = []int{200, 201}
		return nil
	})
	require.NoError(t, err)
	close(release)

	report := <-done
	m.Stop()
	assert.Equal(t, 1, report.Up)

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{200, 201}, stored.SuccessCodes)
	assert.Equal(t, checks.StateUp, stored.State)
	assert.Len(t, h.gateway.messages(), 1)
}

// Two cycles that both see the down record still produce a single alert for
// the one transition.
func TestOverlappingCyclesAlertOnce(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 2 {
			close(release)
		}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 1, 200)
	m := h.monitor()

	reports := make(chan up.CycleReport, 2)
	for i := 0; i < 2; i++ {
		go func() { reports <- m.RunAllChecksOnce(context.Background()) }()
	}
	a, b := <-reports, <-reports
	m.Stop()

	assert.Equal(t, 2, a.Up+b.Up)
	assert.Equal(t, 1, a.Alerts+b.Alerts)
	assert.Len(t, h.gateway.messages(), 1)

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateUp, stored.State)

	entries := h.entries(t, c.ID)
	require.Len(t, entries, 2)
	alerted := 0
	for _, e := range entries {
		if e.Alert {
			alerted++
		}
	}
	assert.Equal(t, 1, alerted)
}

// deletingLogs deletes the check as its first log entry is appended, the way
// an operator delete can land right after an outcome is written.
type deletingLogs struct {
	*logstore.Store
	repo    *checks.Repository
	once    sync.Once
	deleted chan error
}

func (d *deletingLogs) Append(id string, record []byte) error {
	d.once.Do(func() {
		go func() { d.deleted <- d.repo.Delete(context.Background(), id) }()
		time.Sleep(50 * time.Millisecond)
	})
	return d.Store.Append(id, record)
}

func TestDeleteAfterOutcomeLeavesNoLog(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 1, 200)
	logs := &deletingLogs{Store: h.logs, repo: h.repo, deleted: make(chan error, 1)}
	m := up.New(h.repo, logs,
		up.WithLogger(h.logger),
		up.WithGateway(h.gateway),
		up.WithClock(func() time.Time { return fixedNow }),
		up.WithRunOnStart(false))

	report := m.RunAllChecksOnce(context.Background())
	m.Stop()
	require.NoError(t, <-logs.deleted)
	assert.Equal(t, 1, report.Up)

	_, err := h.repo.Get(context.Background(), c.ID)
	assert.Error(t, err)
	_, err = h.logs.Read(c.ID)
	assert.ErrorIs(t, err, logstore.ErrNotFound)
	active, err := h.logs.List(false)
	require.NoError(t, err)
	assert.NotContains(t, active, c.ID)
}

// Canceling the caller's context mid-cycle must not turn a healthy endpoint
// into a recorded failure.
func TestCallerCancelDoesNotAbortCycle(t *testing.T) {
	arrived := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	m := h.monitor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-arrived
		cancel()
	}()
	report := m.RunAllChecksOnce(ctx)
	m.Stop()

	assert.Equal(t, 1, report.Up)
	assert.Zero(t, report.WriteFailed)

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateUp, stored.State)

	entries := h.entries(t, c.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, up.Outcome{StatusCode: http.StatusOK}, entries[0].Outcome)
	assert.Equal(t, checks.StateUp, entries[0].State)
}

func TestFailedAlertIsLoggedAndSwallowed(t *testing.T) {
	ts := statusServer(http.StatusInternalServerError)
	defer ts.Close()

	h := newHarness(t)
	h.gateway.err = errors.New("gateway unavailable")
	c := h.addCheck(t, ts.URL, checks.StateUp, 1, 200)
	m := h.monitor(up.WithAlertTimeout(time.Second))

	m.RunAllChecksOnce(context.Background())
	m.Stop()

	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, checks.StateDown, stored.State)
	assert.Len(t, h.obs.FilterMessage("Alert not delivered").All(), 1)
	assert.Len(t, h.gateway.messages(), 1, "alerts are never retried")
}

func TestStartRunsImmediately(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	m := up.New(h.repo, h.logs,
		up.WithLogger(h.logger),
		up.WithGateway(h.gateway),
		up.WithCheckInterval(time.Hour),
		up.WithRotationInterval(time.Hour),
	)
	m.Start()
	m.Stop()

	// The start-up rotation may have run before or after the cycle, so the
	// record is the reliable witness.
	stored, err := h.repo.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasPriorRun())
	assert.Len(t, h.obs.FilterMessage("Log rotation finished").All(), 1)
}

func TestBusyTicksAreSkipped(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h := newHarness(t)
	h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	m := h.monitor(
		up.WithCheckInterval(20*time.Millisecond),
		up.WithMaxConcurrentCycles(1),
	)
	m.Start()

	require.Eventually(t, func() bool {
		return h.obs.FilterMessage("Skipping check cycle, previous cycles still running").Len() > 0
	}, 3*time.Second, 10*time.Millisecond)
	close(release)
	m.Stop()

	assert.GreaterOrEqual(t, h.obs.FilterMessage("Check cycle finished").Len(), 1)
}

func TestRotateLogsOnceArchivesHistory(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	c := h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	m := h.monitor()
	m.RunAllChecksOnce(context.Background())

	before, err := h.logs.Read(c.ID)
	require.NoError(t, err)

	report, err := m.RotateLogsOnce(context.Background())
	require.NoError(t, err)
	m.Stop()
	assert.Equal(t, 1, report.Rotated)
	assert.Equal(t, int64(len(before)), report.Bytes)

	active, err := h.logs.Read(c.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	archives, err := h.logs.Archives(c.ID)
	require.NoError(t, err)
	require.Len(t, archives, 1)
	restored, err := h.logs.Decompress(archives[0])
	require.NoError(t, err)
	assert.Equal(t, before, restored)

	// Nothing new was logged, so a second pass has nothing to archive.
	report, err = m.RotateLogsOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
}

type flakyLogs struct {
	*logstore.Store
	failID string
}

func (f flakyLogs) Rotate(id string) (logstore.Rotation, error) {
	if id == f.failID {
		return logstore.Rotation{}, errors.New("disk full")
	}
	return f.Store.Rotate(id)
}

func TestRotationFailureDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	const a = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
	const b = "6fa459ea-ee8a-3ca4-894e-db77e160355e"
	require.NoError(t, h.logs.Append(a, []byte(`{"n":1}`)))
	require.NoError(t, h.logs.Append(b, []byte(`{"n":2}`)))

	m := up.New(h.repo, flakyLogs{Store: h.logs, failID: a}, up.WithLogger(h.logger), up.WithRunOnStart(false))
	report, err := m.RotateLogsOnce(context.Background())
	m.Stop()

	require.Error(t, err)
	assert.Contains(t, err.Error(), a)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Rotated)

	active, err := h.logs.Read(a)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n", string(active))
}

// Logging options: file-only output produces a non-empty file.
func TestLogging_FileOnlyProducesOutput(t *testing.T) {
	ts := statusServer(http.StatusOK)
	defer ts.Close()

	h := newHarness(t)
	h.addCheck(t, ts.URL, checks.StateDown, 0, 200)
	path := filepath.Join(t.TempDir(), "uptime.log")

	m := up.New(h.repo, h.logs,
		up.LogConsole(false),
		up.LogFile(path),
		up.WithGateway(h.gateway),
		up.WithRunOnStart(false),
	)
	m.RunAllChecksOnce(context.Background())
	m.Stop()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
