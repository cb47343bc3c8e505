package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			data, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range data.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.OrderCreated(ctx, "paid")
	m.OrderCreated(ctx, "pending")
	m.OrderCancelled(ctx)
	m.StockReservationFailed(ctx)
	m.GatewayFailed(ctx, "toss", "verify")
	m.PointsCredited(ctx, 1000)
	m.RefundFailed(ctx, "iamport")
	m.EventPublished(ctx, "order.created", nil)
	m.EventPublished(ctx, "order.created", errors.New("broker down"))

	sums := collectSums(t, reader)
	assert.Equal(t, int64(2), sums["storefront.orders.created"])
	assert.Equal(t, int64(1), sums["storefront.orders.cancelled"])
	assert.Equal(t, int64(1), sums["storefront.inventory.reservation_failures"])
	assert.Equal(t, int64(1), sums["storefront.payment.gateway_failures"])
	assert.Equal(t, int64(1000), sums["storefront.points.credited"])
	assert.Equal(t, int64(1), sums["storefront.payment.refund_failures"])
	assert.Equal(t, int64(1), sums["storefront.events.published"])
	assert.Equal(t, int64(1), sums["storefront.events.publish_errors"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.OrderCreated(ctx, "paid")
		m.OrderCancelled(ctx)
		m.StockReservationFailed(ctx)
		m.GatewayFailed(ctx, "toss", "cancel")
		m.PointsCredited(ctx, 1)
		m.RefundFailed(ctx, "toss")
		m.EventPublished(ctx, "order.cancelled", nil)
	})
}

func TestInitTracerProviderDisabled(t *testing.T) {
	shutdown, err := InitTracerProvider(context.Background(), "", "storefront", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
