// Package events publishes catalog change events to Kafka.
package events

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/dscommerce/internal/domain/product"
)

var _ product.EventPublisher = (*Publisher)(nil)

// Publisher writes catalog events to a Kafka topic, keyed by product id so
// events of one product stay ordered within a partition.
//
// Publish only enqueues. Delivery results are reported through the logger by
// a background goroutine, so a slow broker never holds up a committed write.
type Publisher struct {
	producer sarama.AsyncProducer
	topic    string
	newID    func() string
	lg       *zap.Logger
	done     chan struct{}
}

// NewPublisher connects an asynchronous idempotent producer to brokers.
func NewPublisher(brokers []string, topic string, lg *zap.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return newPublisher(producer, topic, lg), nil
}

func newPublisher(producer sarama.AsyncProducer, topic string, lg *zap.Logger) *Publisher {
	p := &Publisher{
		producer: producer,
		topic:    topic,
		newID:    func() string { return uuid.New().String() },
		lg:       lg.Named("events"),
		done:     make(chan struct{}),
	}
	go p.drain()
	return p
}

// Publish enqueues e. It blocks only while the producer input is full and
// gives up when ctx is done.
func (p *Publisher) Publish(ctx context.Context, e product.Event) error {
	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(strconv.FormatInt(e.ProductID, 10)),
		Value:     sarama.ByteEncoder(encodeEvent(p.newID(), e)),
		Timestamp: e.At,
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(e.Type)},
		},
		Metadata: e.Type,
	}

	select {
	case p.producer.Input() <- msg:
		zctx.From(ctx).Debug("Catalog event queued",
			zap.String("type", string(e.Type)),
			zap.Int64("product_id", e.ProductID),
		)
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "enqueue %s event", e.Type)
	}
}

// drain reports delivery results until the producer closes both channels.
func (p *Publisher) drain() {
	defer close(p.done)

	successes, failures := p.producer.Successes(), p.producer.Errors()
	for successes != nil || failures != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			p.lg.Debug("Catalog event sent",
				zap.String("topic", msg.Topic),
				zap.String("type", eventType(msg)),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		case perr, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			p.lg.Warn("Catalog event not delivered",
				zap.String("topic", perr.Msg.Topic),
				zap.String("type", eventType(perr.Msg)),
				zap.Error(perr.Err),
			)
		}
	}
}

func eventType(msg *sarama.ProducerMessage) string {
	typ, _ := msg.Metadata.(product.EventType)
	return string(typ)
}

// Close flushes buffered events and waits for their delivery results, or
// until ctx is done.
func (p *Publisher) Close(ctx context.Context) error {
	p.producer.AsyncClose()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "flush kafka producer")
	}
}

func encodeEvent(id string, e product.Event) []byte {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("id", func(enc *jx.Encoder) { enc.Str(id) })
		enc.Field("type", func(enc *jx.Encoder) { enc.Str(string(e.Type)) })
		enc.Field("productId", func(enc *jx.Encoder) { enc.Int64(e.ProductID) })
		enc.Field("at", func(enc *jx.Encoder) { enc.Str(e.At.UTC().Format(time.RFC3339Nano)) })
	})
	return enc.Bytes()
}

var _ product.EventPublisher = Noop{}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, product.Event) error { return nil }
