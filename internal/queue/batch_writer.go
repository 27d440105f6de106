package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// BatchHandler processes one flushed batch. It returns the messages that were
// handled; only those are committed.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch []kafka.Message) []kafka.Message
}

// BatchHandlerFunc adapts a function to BatchHandler
type BatchHandlerFunc func(ctx context.Context, batch []kafka.Message) []kafka.Message

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch []kafka.Message) []kafka.Message {
	return f(ctx, batch)
}

// BatchWriter consumes from Kafka and hands messages to a handler in batches,
// flushing when the batch is full or the flush interval elapses.
type BatchWriter struct {
	source        MessageSource
	handler       BatchHandler
	batchSize     int
	flushInterval time.Duration
	log           *zap.Logger
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewBatchWriter creates a new batch writer
func NewBatchWriter(source MessageSource, handler BatchHandler, batchSize int, flushInterval time.Duration, log *zap.Logger) *BatchWriter {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchWriter{
		source:        source,
		handler:       handler,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log,
		stopCh:        make(chan struct{}),
	}
}

// Start begins consuming in the background
func (bw *BatchWriter) Start(ctx context.Context) {
	bw.wg.Add(1)
	go bw.run(ctx)
}

// Stop flushes what is buffered and waits for the writer to exit
func (bw *BatchWriter) Stop() {
	bw.stopOnce.Do(func() { close(bw.stopCh) })
	bw.wg.Wait()
}

func (bw *BatchWriter) run(ctx context.Context) {
	defer bw.wg.Done()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgChan := make(chan kafka.Message, bw.batchSize)
	go func() {
		defer close(msgChan)
		for {
			msg, err := bw.source.Consume(fetchCtx)
			if err != nil {
				if fetchCtx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				bw.log.Warn("consume failed", zap.Error(err))
				select {
				case <-time.After(500 * time.Millisecond):
				case <-fetchCtx.Done():
					return
				}
				continue
			}
			select {
			case msgChan <- msg:
			case <-fetchCtx.Done():
				return
			}
		}
	}()

	var batch []kafka.Message
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.stopCh:
			cancel()
			bw.flush(context.WithoutCancel(ctx), batch)
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if len(batch) > 0 {
				bw.flush(ctx, batch)
				batch = nil
			}

		case msg, ok := <-msgChan:
			if !ok {
				bw.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= bw.batchSize {
				bw.flush(ctx, batch)
				batch = nil
			}
		}
	}
}

func (bw *BatchWriter) flush(ctx context.Context, batch []kafka.Message) {
	if len(batch) == 0 {
		return
	}

	handled := bw.handler.HandleBatch(ctx, batch)
	for _, msg := range handled {
		if err := bw.source.Commit(ctx, msg); err != nil {
			bw.log.Warn("commit failed",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}

	bw.log.Debug("flushed batch",
		zap.Int("received", len(batch)),
		zap.Int("handled", len(handled)))
}
