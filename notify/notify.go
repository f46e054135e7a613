// Package notify delivers alert messages to owners through an outbound
// gateway. Delivery is a single attempt; callers decide what to do with errors.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// MaxBodyLength is the longest message any gateway accepts.
const MaxBodyLength = 1600

// ErrInvalidMessage is returned before sending when destination or body are unusable.
var ErrInvalidMessage = errors.New("invalid notification")

// Gateway sends one message to one destination.
type Gateway interface {
	Send(ctx context.Context, to, body string) error
}

func validateMessage(to, body string) error {
	if strings.TrimSpace(to) == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidMessage)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	if len(body) > MaxBodyLength {
		return fmt.Errorf("%w: body longer than %d characters", ErrInvalidMessage, MaxBodyLength)
	}
	return nil
}

// Log is a Gateway that only writes alerts to a logger. It is used when no
// real gateway is configured.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Send(_ context.Context, to, body string) error {
	if err := validateMessage(to, body); err != nil {
		return err
	}
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Alert", zap.String("to", to), zap.String("body", body))
	return nil
}
