package uptime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/amartya2002/uptime-monitor/checks"
)

// maxDrain bounds how much of a response body is read before closing it.
const maxDrain = 64 << 10

func noRedirects(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

// probeClient copies base so that redirects are reported rather than followed.
func probeClient(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	c := *base
	c.CheckRedirect = noRedirects
	return &c
}

// probe sends one request for c and returns exactly one outcome. The timer
// and the response race; whichever finishes first decides the outcome and
// the other is dropped.
func (m *Monitor) probe(ctx context.Context, c checks.Check) Outcome {
	timeout := time.Duration(c.TimeoutSeconds) * time.Second

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan Outcome, 1)
	var once sync.Once
	deliver := func(o Outcome) {
		once.Do(func() { result <- o })
	}

	timer := time.AfterFunc(timeout, func() {
		deliver(failure(FailureTimeout, fmt.Errorf("no response within %s", timeout)))
		cancel()
	})
	defer timer.Stop()

	go func() {
		req, err := http.NewRequestWithContext(ctx, c.HTTPMethod(), c.Target(), nil)
		if err != nil {
			deliver(failure(FailureConnection, err))
			return
		}
		resp, err := m.httpClient.Do(req)
		if err != nil {
			deliver(classify(err))
			return
		}
		deliver(success(resp.StatusCode))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
		_ = resp.Body.Close()
	}()

	return <-result
}

func classify(err error) Outcome {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failure(FailureTimeout, err)
	}
	return failure(FailureConnection, err)
}
