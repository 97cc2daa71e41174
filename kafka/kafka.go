// Package kafka publishes cycle reports to a topic and tails them back.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"viewcheck/cycle"
	"viewcheck/logger"
	"viewcheck/metrics"
)

// Header keys set on every report message.
const (
	HeaderResult = "viewcheck-result"
	HeaderTag    = "viewcheck-tag"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher is a cycle.Sink writing one JSON message per report, keyed by run id.
type Publisher struct {
	w     messageWriter
	topic string
}

func NewPublisher(broker, topic string) *Publisher {
	logger.Info("kafka publisher configured", logger.FieldKV("broker", broker), logger.FieldKV("topic", topic))
	return &Publisher{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.LeastBytes{},
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Message encodes rep the way Deliver writes it.
func Message(rep cycle.Report) (kafka.Message, error) {
	b, err := json.Marshal(rep)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal report %s: %w", rep.RunID, err)
	}
	result := "fail"
	if rep.Passed() {
		result = "pass"
	}
	return kafka.Message{
		Key:   []byte(rep.RunID),
		Value: b,
		Headers: []kafka.Header{
			{Key: HeaderResult, Value: []byte(result)},
			{Key: HeaderTag, Value: []byte(rep.Tag)},
		},
		Time: rep.FinishedAt,
	}, nil
}

func (p *Publisher) Deliver(ctx context.Context, rep cycle.Report) error {
	msg, err := Message(rep)
	if err != nil {
		metrics.IncReportPublishFailure()
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		metrics.IncReportPublishFailure()
		return fmt.Errorf("write report %s to %s: %w", rep.RunID, p.topic, err)
	}
	logger.Debug("report published", logger.FieldKV("run_id", rep.RunID), logger.FieldKV("topic", p.topic))
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Subscriber tails the report topic.
type Subscriber struct {
	r messageReader
}

// NewSubscriber reads partition 0 of topic starting from the latest offset.
func NewSubscriber(broker, topic string) *Subscriber {
	logger.Info("starting kafka reader", logger.FieldKV("broker", broker), logger.FieldKV("topic", topic))
	return &Subscriber{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       topic,
		Partition:   0,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		StartOffset: kafka.LastOffset,
	})}
}

// Run decodes reports into out until ctx ends or the reader fails. Messages
// that do not decode are logged and skipped. out is closed on return.
func (s *Subscriber) Run(ctx context.Context, out chan<- cycle.Report) error {
	defer close(out)
	defer func() {
		if err := s.r.Close(); err != nil {
			logger.Error("failed to close kafka reader", err)
		}
	}()
	for {
		m, err := s.r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read report: %w", err)
		}
		logger.Debug("report read from kafka",
			logger.FieldKV("partition", m.Partition),
			logger.FieldKV("offset", m.Offset))

		var rep cycle.Report
		if err := json.Unmarshal(m.Value, &rep); err != nil {
			logger.Error("error unmarshalling report from kafka", err, logger.FieldKV("offset", m.Offset))
			continue
		}
		select {
		case out <- rep:
		case <-ctx.Done():
			return nil
		}
	}
}
