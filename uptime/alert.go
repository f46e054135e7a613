package uptime

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/amartya2002/uptime-monitor/checks"
)

// AlertMessage is the text sent to an owner when a check changes state.
func AlertMessage(c checks.Check, state checks.State) string {
	return fmt.Sprintf("Alert: your check for %s %s is currently %s", c.HTTPMethod(), c.Target(), state)
}

// dispatchAlert sends the alert on its own goroutine. Failures are logged and
// never retried.
func (m *Monitor) dispatchAlert(c checks.Check, state checks.State) {
	to := m.alertPrefix + c.OwnerID
	body := AlertMessage(c, state)

	m.alerts.Add(1)
	go func() {
		defer m.alerts.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.alertTimeout)
		defer cancel()

		if err := m.gateway.Send(ctx, to, body); err != nil {
			m.logger.Warn("Alert not delivered",
				zap.String("check_id", c.ID),
				zap.String("state", string(state)),
				zap.Error(err))
			return
		}
		m.logger.Info("Alert sent", zap.String("check_id", c.ID), zap.String("state", string(state)))
	}()
}
