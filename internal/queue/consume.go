package queue

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler processes a single message.
type Handler func(ctx context.Context, msg kafka.Message) error

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error that retrying cannot fix, such as an undecodable
// payload. The message is committed and skipped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RunConsumer feeds messages to handler one at a time until ctx is done.
// Offsets are committed after success or a permanent failure; any other
// failure leaves the offset uncommitted so the message is redelivered after
// a rebalance or restart.
func RunConsumer(ctx context.Context, source MessageSource, handler Handler, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}

	for {
		msg, err := source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("consume failed", zap.Error(err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return
			}
			continue
		}

		err = handler(ctx, msg)
		switch {
		case err == nil:
		case IsPermanent(err):
			log.Warn("skipping message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		default:
			log.Error("failed to handle message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			continue
		}

		if err := source.Commit(ctx, msg); err != nil {
			log.Warn("commit failed", zap.Error(err))
		}
	}
}
