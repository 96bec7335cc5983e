package kafka

import (
	"context"
	"sync"
	"time"

	"riskstream/internal/events"
	"riskstream/internal/metrics"
	"riskstream/pkg/errors"
	"riskstream/pkg/logger"
)

const (
	defaultJournalBuffer = 256
	journalWriteTimeout  = 5 * time.Second
)

// Publisher writes one message to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, value []byte) error
}

type journalEntry struct {
	kind  events.Kind
	frame []byte
}

// Journal copies decoded frames to a Kafka topic in the background.
// Tap never blocks: when the buffer is full the frame is dropped and counted.
type Journal struct {
	publisher Publisher
	topic     string
	queue     chan journalEntry
	log       *logger.Logger

	wg      sync.WaitGroup
	dropped int64
	mu      sync.Mutex
}

// NewJournal creates a journal publishing to topic
func NewJournal(publisher Publisher, topic string, buffer int, log *logger.Logger) *Journal {
	if topic == "" {
		topic = TopicStreamEvents
	}
	if buffer <= 0 {
		buffer = defaultJournalBuffer
	}
	if log == nil {
		log = logger.Get()
	}
	return &Journal{
		publisher: publisher,
		topic:     topic,
		queue:     make(chan journalEntry, buffer),
		log:       log.Component("stream_journal"),
	}
}

// Start publishes queued frames until ctx is cancelled. Frames still queued at that
// point are flushed before the worker exits.
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		for {
			select {
			case <-ctx.Done():
				j.flush()
				return
			case e := <-j.queue:
				j.publish(e)
			}
		}
	}()
}

// Wait blocks until the worker started by Start has exited
func (j *Journal) Wait() {
	j.wg.Wait()
}

// Tap queues a frame for publishing
func (j *Journal) Tap(kind events.Kind, frame []byte) {
	entry := journalEntry{kind: kind, frame: append([]byte(nil), frame...)}

	select {
	case j.queue <- entry:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		metrics.RecordJournal(DirectionProduced, errors.New("journal buffer full"))
	}
}

// Dropped returns how many frames were dropped because the buffer was full
func (j *Journal) Dropped() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

func (j *Journal) flush() {
	for {
		select {
		case e := <-j.queue:
			j.publish(e)
		default:
			return
		}
	}
}

func (j *Journal) publish(e journalEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	err := j.publisher.Publish(ctx, j.topic, string(e.kind), e.frame)
	metrics.RecordJournal(DirectionProduced, err)
	if err != nil {
		j.log.Warnw("Failed to journal frame", "kind", e.kind, "error", err)
	}
}
