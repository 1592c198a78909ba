package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chatterhq/chatter/internal/domain"
)

// MessageSink is what the writer persists into.
type MessageSink interface {
	SaveMessage(ctx context.Context, msg domain.Message) error
}

const (
	writerQueueSize  = 1024
	writerAttempts   = 3
	writerBackoffMin = 100 * time.Millisecond
)

// AsyncWriter persists messages off the publish path. Enqueue never
// blocks: if the queue is full the message is dropped and logged,
// costing replay history but never delivery latency.
type AsyncWriter struct {
	sink  MessageSink
	queue chan domain.Message
	done  chan struct{}
}

func NewAsyncWriter(sink MessageSink) *AsyncWriter {
	w := &AsyncWriter{
		sink:  sink,
		queue: make(chan domain.Message, writerQueueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands a message to the writer. Fire-and-forget.
func (w *AsyncWriter) Enqueue(msg domain.Message) {
	select {
	case w.queue <- msg:
	default:
		log.Warn().Str("module", "storage.writer").
			Str("room", string(msg.RoomID)).Uint64("seq", msg.Seq).
			Msg("writer queue full, message not persisted")
	}
}

// Close drains the queue and stops the worker.
func (w *AsyncWriter) Close() {
	close(w.queue)
	<-w.done
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for msg := range w.queue {
		w.persist(msg)
	}
}

func (w *AsyncWriter) persist(msg domain.Message) {
	backoff := writerBackoffMin
	for attempt := 1; ; attempt++ {
		err := w.sink.SaveMessage(context.Background(), msg)
		if err == nil {
			return
		}
		if attempt >= writerAttempts {
			log.Error().Err(err).Str("module", "storage.writer").
				Str("room", string(msg.RoomID)).Uint64("seq", msg.Seq).
				Msg("message dropped after retries")
			return
		}
		log.Warn().Err(err).Str("module", "storage.writer").
			Str("room", string(msg.RoomID)).Uint64("seq", msg.Seq).
			Int("attempt", attempt).Msg("persist failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}
}
