// Package notification delivers raised alerts to people.
package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/smukkama/egg-grader/internal/protocol"
)

// Notifier is one delivery channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, req *protocol.NotificationRequest) error
}

// Dispatcher fans a notification out to every channel.
type Dispatcher struct {
	notifiers []Notifier
	log       *zap.Logger
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(log *zap.Logger, notifiers ...Notifier) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifiers: notifiers, log: log}
}

// Dispatch tries every channel and joins the failures. A failure on one
// channel does not stop the others.
func (d *Dispatcher) Dispatch(ctx context.Context, req *protocol.NotificationRequest) error {
	var errs []error
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, req); err != nil {
			d.log.Warn("delivery failed",
				zap.String("channel", n.Name()),
				zap.String("notification_id", req.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}
