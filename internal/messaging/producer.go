// Package messaging публикует доменные события витрины в Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/telemetry"
)

// Типы доменных событий.
const (
	EventOrderCreated             = "order.created"
	EventOrderUpdated             = "order.updated"
	EventOrderCancelled           = "order.cancelled"
	EventExchangeReturnCreated    = "exchange_return.created"
	EventExchangeReturnCompleted  = "exchange_return.completed"
	EventExchangeReturnRefundFail = "exchange_return.refund_failed"
)

// DefaultPublishTimeout ограничивает публикацию одного события, чтобы недоступный брокер
// не задерживал ответ на запрос.
const DefaultPublishTimeout = 2 * time.Second

var tracer = otel.Tracer("github.com/mmeshcher/storefront/internal/messaging")

// Event - конверт доменного события.
type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// Publisher публикует события.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer публикует события в топик Kafka, ключ сообщения - идентификатор агрегата.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer создаёт продюсер для брокеров и топика.
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
			WriteTimeout:           DefaultPublishTimeout,
			MaxAttempts:            3,
			RequiredAcks:           kafka.RequireOne,
		},
	}
}

// Publish отправляет событие.
func (p *Producer) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}

	ctx, span := tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingKafkaMessageKey(event.Key),
		),
	)
	defer span.End()

	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close закрывает соединения с брокерами.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher отбрасывает события; используется, когда брокеры не настроены.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }

// Emitter публикует события после фиксации транзакции. Ошибки публикации только логируются.
type Emitter struct {
	pub     Publisher
	logger  *zap.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewEmitter создаёт Emitter. nil-publisher заменяется на NopPublisher.
func NewEmitter(pub Publisher, logger *zap.Logger, metrics *telemetry.Metrics) *Emitter {
	if pub == nil {
		pub = NopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pub: pub, logger: logger, metrics: metrics, timeout: DefaultPublishTimeout, now: time.Now}
}

// Emit публикует событие eventType с ключом key. Отмена запроса публикацию не прерывает,
// но ожидание ограничено таймаутом.
func (e *Emitter) Emit(ctx context.Context, eventType, key string, payload any) {
	if e == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	err := e.pub.Publish(ctx, Event{
		Type:       eventType,
		Key:        key,
		OccurredAt: e.now().UTC(),
		Payload:    payload,
	})
	e.metrics.EventPublished(ctx, eventType, err)
	if err != nil {
		e.logger.Error("publish event",
			zap.String("type", eventType),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
