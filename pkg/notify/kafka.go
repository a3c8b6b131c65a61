package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"aegis/pkg/models"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// auditQueueSize bounds the publish backlog. The audit chain calls the
// publisher while serializing a scope, so a slow broker must never be
// felt there; overflow drops the mirror copy, the chain itself is the
// durable record.
const auditQueueSize = 256

// KafkaEmitter mirrors committed audit entries onto a broker topic so
// external consumers can follow the chain without polling. Delivery
// runs on its own goroutine; enqueueing never blocks.
type KafkaEmitter struct {
	writer kafkaWriter
	logger *log.Logger

	queue chan models.AuditEntry
	done  chan struct{}
	once  sync.Once
}

func NewKafkaEmitter(cfg KafkaConfig) (*KafkaEmitter, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		trimmed := strings.TrimSpace(b)
		if trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newEmitter(w, log.Default(), auditQueueSize), nil
}

func newEmitter(w kafkaWriter, logger *log.Logger, queueSize int) *KafkaEmitter {
	e := &KafkaEmitter{
		writer: w,
		logger: logger,
		queue:  make(chan models.AuditEntry, queueSize),
		done:   make(chan struct{}),
	}
	go e.drain()
	return e
}

func (e *KafkaEmitter) drain() {
	defer close(e.done)
	for entry := range e.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := e.EmitAudit(ctx, entry)
		cancel()
		if err != nil {
			e.logger.Printf("kafka audit emit failed scope=%s seq=%d: %v", entry.Scope, entry.SequenceNo, err)
		}
	}
}

func (e *KafkaEmitter) EmitAudit(ctx context.Context, entry models.AuditEntry) error {
	if e == nil || e.writer == nil {
		return fmt.Errorf("kafka emitter not initialized")
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Scope),
		Value: value,
	})
}

// Publisher adapts the emitter into an audit chain observer. It hands
// the entry to the delivery goroutine and returns immediately; when
// the queue is full the entry is dropped with a log line.
func (e *KafkaEmitter) Publisher() func(models.AuditEntry) {
	return func(entry models.AuditEntry) {
		select {
		case e.queue <- entry:
		default:
			e.logger.Printf("kafka audit queue full, dropping scope=%s seq=%d", entry.Scope, entry.SequenceNo)
		}
	}
}

// Close flushes queued entries, stops the delivery goroutine, and
// releases the writer. Call it after the chain has stopped publishing.
func (e *KafkaEmitter) Close() error {
	if e == nil {
		return nil
	}
	if e.queue != nil {
		e.once.Do(func() { close(e.queue) })
		<-e.done
	}
	if e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
