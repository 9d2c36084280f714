package taskengine

import (
	"context"
	"errors"

	"github.com/segmentio/kafka-go"

	"tripplan-go/internal/config"
)

// ErrQueueFull is returned by Enqueue when the queue cannot accept another
// task id without blocking (spec §4.J QUEUE_MAXSIZE).
var ErrQueueFull = errors.New("task queue is full")

// Queue decouples task submission from execution. The default
// implementation is an in-process bounded channel; a kafka-go-backed
// implementation is available for a distributed worker deployment,
// satisfying the same interface.
type Queue interface {
	Enqueue(ctx context.Context, taskID string) error
	Dequeue(ctx context.Context) (string, error)
	Close() error
}

// ChannelQueue is the default in-process queue: bounded, single-binary,
// no external broker required.
type ChannelQueue struct {
	ch chan string
}

// NewChannelQueue builds a bounded in-process queue.
func NewChannelQueue(maxSize int) *ChannelQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &ChannelQueue{ch: make(chan string, maxSize)}
}

// Enqueue never blocks: a full queue fails fast with ErrQueueFull rather
// than stalling the submitting request.
func (q *ChannelQueue) Enqueue(ctx context.Context, taskID string) error {
	select {
	case q.ch <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *ChannelQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *ChannelQueue) Close() error {
	close(q.ch)
	return nil
}

// KafkaQueue is the distributed alternative: task ids are produced to and
// consumed from a Kafka topic so multiple process instances can share one
// worker pool, following the teacher's producer/consumer wiring idiom.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue builds a Queue backed by a Kafka topic. Not wired by
// default (spec's task engine Non-goals keep the baseline in-process);
// available for a deployment that needs a shared, multi-instance queue.
func NewKafkaQueue(cfg config.KafkaConfig, groupID string) *KafkaQueue {
	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers),
			Topic:    cfg.Topic,
			Balancer: &kafka.LeastBytes{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{cfg.Brokers},
			Topic:   cfg.Topic,
			GroupID: groupID,
		}),
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, taskID string) error {
	return q.writer.WriteMessages(ctx, kafka.Message{Value: []byte(taskID)})
}

func (q *KafkaQueue) Dequeue(ctx context.Context) (string, error) {
	msg, err := q.reader.FetchMessage(ctx)
	if err != nil {
		return "", err
	}
	if err := q.reader.CommitMessages(ctx, msg); err != nil {
		return "", err
	}
	return string(msg.Value), nil
}

func (q *KafkaQueue) Close() error {
	_ = q.writer.Close()
	return q.reader.Close()
}
