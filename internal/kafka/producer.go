package kafka

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes synchronously: Send returns once every in-sync replica
// acknowledged the message, or with the transport error.
type Producer struct {
	w     Writer
	topic string
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func NewProducerWithWriter(w Writer, topic string) *Producer {
	return &Producer{w: w, topic: topic}
}

func (p *Producer) Send(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	InjectTrace(ctx, &msg.Headers)
	return errors.Wrapf(p.w.WriteMessages(ctx, msg), "write to topic %s", p.topic)
}

func (p *Producer) Close() error { return p.w.Close() }
