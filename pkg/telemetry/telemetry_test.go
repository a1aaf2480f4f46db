package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func metricHistogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	if m.Histogram == nil {
		t.Fatal("expected histogram metric to have Histogram field")
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithSubsystem("server"))

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.AuthRejected()
	m.MessageReceived("POS")
	m.MessageRelayed("POS", 3)
	m.MessageRelayed("POS", 0)
	m.MessageDropped(DropMalformed)
	m.BytesReceived(17)
	m.BytesSent(-1)
	m.FileFetch(FetchMiss)
	m.Snapshot(10)
	m.FeedDropped()

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"connections_active", m.connectionsActive, 1},
		{"connections_total", m.connectionsTotal, 2},
		{"auth_rejections_total", m.authRejections, 1},
		{"messages_received_total", m.messagesReceived.WithLabelValues("POS"), 1},
		{"messages_relayed_total", m.messagesRelayed.WithLabelValues("POS"), 3},
		{"messages_dropped_total", m.messagesDropped.WithLabelValues(DropMalformed), 1},
		{"bytes_received_total", m.bytesReceived, 17},
		{"bytes_sent_total", m.bytesSent, 0},
		{"file_fetches_total", m.fileFetches.WithLabelValues(FetchMiss), 1},
		{"feed_dropped_total", m.feedDropped, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
			}
		})
	}

	if got := metricHistogramCount(t, m.snapshotBytes); got != 1 {
		t.Errorf("snapshot_bytes count = %d, want 1", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "dfsync_server_connections_total" {
			found = true
		}
	}
	if !found {
		t.Error("dfsync_server_connections_total not registered")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.AuthRejected()
	m.MessageReceived("POS")
	m.MessageRelayed("POS", 1)
	m.MessageDropped(DropUnknown)
	m.BytesReceived(1)
	m.BytesSent(1)
	m.FileFetch(FetchHit)
	m.Snapshot(1)
	m.FeedDropped()
}

func TestSpanHelpers(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	ctx, span := StartSpan(context.Background(), tracer, "dfsync.handshake", trace.SpanKindServer, AttrPlayer.String("Alice"))
	if ctx == nil || span == nil {
		t.Fatal("StartSpan() returned nil")
	}
	EndSpan(span, errors.New("rejected"))

	_, span = StartSpan(context.Background(), nil, "dfsync.snapshot", trace.SpanKindClient)
	EndSpan(span, nil)
}
