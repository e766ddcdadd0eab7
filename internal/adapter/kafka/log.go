// Package kafka implements store.Log on a single-partition Kafka topic. The
// topic is the log: each notified event is one message keyed by its id.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Only partition 0 is read and written so that Load sees every append in order.
const logPartition = 0

// Log is a store.Log backed by a Kafka topic.
type Log struct {
	brokers []string
	topic   string
	writer  *kafkago.Writer
	logger  *slog.Logger
	now     func() time.Time
}

// NewLog creates a Kafka-backed log. Call EnsureTopic before the first Load
// when the topic may not exist yet.
func NewLog(brokers []string, topic string, logger *slog.Logger) *Log {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     kafkago.BalancerFunc(firstPartition),
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    1,
	}
	return &Log{
		brokers: brokers,
		topic:   topic,
		writer:  w,
		logger:  logger,
		now:     time.Now,
	}
}

// EnsureTopic creates the topic with one partition if it does not exist.
func (l *Log) EnsureTopic(ctx context.Context) error {
	conn, err := l.dialAny(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find kafka controller: %w", err)
	}
	var d kafkago.Dialer
	cc, err := d.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial kafka controller: %w", err)
	}
	defer cc.Close()

	err = cc.CreateTopics(kafkago.TopicConfig{
		Topic:             l.topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", l.topic, err)
	}
	return nil
}

// Load reads partition 0 from the first to the last offset.
func (l *Log) Load(ctx context.Context) ([]string, error) {
	first, last, err := l.offsets(ctx)
	if err != nil {
		return nil, err
	}
	if last <= first {
		return nil, nil
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   l.brokers,
		Topic:     l.topic,
		Partition: logPartition,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer r.Close()

	if err := r.SetOffset(first); err != nil {
		return nil, fmt.Errorf("seek %s to offset %d: %w", l.topic, first, err)
	}

	ids := make([]string, 0, last-first)
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s at offset %d: %w", l.topic, r.Offset(), err)
		}
		if id := idFromMessage(msg); id != "" {
			ids = append(ids, id)
		}
		if msg.Offset >= last-1 {
			break
		}
	}

	l.logger.Debug("kafka log loaded", "topic", l.topic, "ids", len(ids), "first_offset", first, "last_offset", last)
	return ids, nil
}

// Append produces one message and waits for all in-sync replicas.
func (l *Log) Append(ctx context.Context, id string) error {
	msg, err := serializeToMessage(id, l.now())
	if err != nil {
		return err
	}
	if err := l.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write %s to %s: %w", id, l.topic, err)
	}
	return nil
}

func (l *Log) Close() error {
	return l.writer.Close()
}

func (l *Log) offsets(ctx context.Context) (first, last int64, err error) {
	var lastErr error
	for _, broker := range l.brokers {
		conn, err := kafkago.DialLeader(ctx, "tcp", broker, l.topic, logPartition)
		if err != nil {
			lastErr = err
			continue
		}
		first, last, err = conn.ReadOffsets()
		conn.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("read offsets of %s: %w", l.topic, err)
		}
		return first, last, nil
	}
	return 0, 0, fmt.Errorf("dial leader of %s: %w", l.topic, lastErr)
}

func (l *Log) dialAny(ctx context.Context) (*kafkago.Conn, error) {
	var lastErr error
	for _, broker := range l.brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("dial kafka: %w", lastErr)
}

// notifiedRecord is the message value; the key alone is enough to rebuild
// the set.
type notifiedRecord struct {
	ID         string    `json:"id"`
	NotifiedAt time.Time `json:"notified_at"`
}

func serializeToMessage(id string, at time.Time) (kafkago.Message, error) {
	if id == "" {
		return kafkago.Message{}, errors.New("empty event id")
	}
	data, err := json.Marshal(notifiedRecord{ID: id, NotifiedAt: at.UTC()})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notified event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(id),
		Value: data,
		Time:  at,
		Headers: []kafkago.Header{
			{Key: "notified_at", Value: []byte(at.UTC().Format(time.RFC3339))},
		},
	}, nil
}

func idFromMessage(msg kafkago.Message) string {
	if len(msg.Key) > 0 {
		return string(msg.Key)
	}
	var rec notifiedRecord
	if err := json.Unmarshal(msg.Value, &rec); err == nil {
		return rec.ID
	}
	return ""
}

// firstPartition pins every message to the lowest partition id.
func firstPartition(_ kafkago.Message, partitions ...int) int {
	p := partitions[0]
	for _, candidate := range partitions[1:] {
		if candidate < p {
			p = candidate
		}
	}
	return p
}
