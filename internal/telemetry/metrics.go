package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/mmeshcher/storefront"

// InitMeterProvider создаёт Prometheus-экспортёр и MeterProvider.
// Возвращает обработчик для /metrics, набор доменных счётчиков и функцию остановки.
func InitMeterProvider(serviceName, serviceVersion string) (http.Handler, *Metrics, ShutdownFunc, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(newResource(serviceName, serviceVersion)),
	)
	otel.SetMeterProvider(mp)

	if err := runtime.Start(runtime.WithMeterProvider(mp)); err != nil {
		return nil, nil, nil, fmt.Errorf("start runtime metrics: %w", err)
	}

	m, err := NewMetrics(mp.Meter(meterName))
	if err != nil {
		return nil, nil, nil, err
	}

	return promhttp.Handler(), m, mp.Shutdown, nil
}

// Metrics - доменные счётчики. Методы безопасны для nil-получателя, тогда они ничего не делают.
type Metrics struct {
	ordersCreated    metric.Int64Counter
	ordersCancelled  metric.Int64Counter
	stockFailures    metric.Int64Counter
	gatewayFailures  metric.Int64Counter
	pointsCredited   metric.Int64Counter
	refundFailures   metric.Int64Counter
	eventsPublished  metric.Int64Counter
	eventPublishErrs metric.Int64Counter
}

// NewMetrics регистрирует счётчики в meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ordersCreated, "storefront.orders.created", "Orders created, by initial status"},
		{&m.ordersCancelled, "storefront.orders.cancelled", "Orders cancelled"},
		{&m.stockFailures, "storefront.inventory.reservation_failures", "Reservations rejected for insufficient stock"},
		{&m.gatewayFailures, "storefront.payment.gateway_failures", "Failed payment gateway calls, by provider and operation"},
		{&m.pointsCredited, "storefront.points.credited", "Reward points credited"},
		{&m.refundFailures, "storefront.payment.refund_failures", "Refunds that failed after the domain change committed"},
		{&m.eventsPublished, "storefront.events.published", "Domain events published"},
		{&m.eventPublishErrs, "storefront.events.publish_errors", "Domain events that could not be published"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}

	return &m, nil
}

// OrderCreated учитывает созданный заказ.
func (m *Metrics) OrderCreated(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.ordersCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// OrderCancelled учитывает отменённый заказ.
func (m *Metrics) OrderCancelled(ctx context.Context) {
	if m == nil {
		return
	}
	m.ordersCancelled.Add(ctx, 1)
}

// StockReservationFailed учитывает отказ в резерве.
func (m *Metrics) StockReservationFailed(ctx context.Context) {
	if m == nil {
		return
	}
	m.stockFailures.Add(ctx, 1)
}

// GatewayFailed учитывает ошибку обращения к платёжному шлюзу.
func (m *Metrics) GatewayFailed(ctx context.Context, provider, operation string) {
	if m == nil {
		return
	}
	m.gatewayFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
	))
}

// PointsCredited учитывает начисленные баллы.
func (m *Metrics) PointsCredited(ctx context.Context, amount int64) {
	if m == nil {
		return
	}
	m.pointsCredited.Add(ctx, amount)
}

// RefundFailed учитывает возврат, не прошедший через шлюз.
func (m *Metrics) RefundFailed(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.refundFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// EventPublished учитывает результат публикации события.
func (m *Metrics) EventPublished(ctx context.Context, eventType string, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("type", eventType))
	if err != nil {
		m.eventPublishErrs.Add(ctx, 1, attrs)
		return
	}
	m.eventsPublished.Add(ctx, 1, attrs)
}
