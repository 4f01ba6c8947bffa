package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// restoreGlobals puts the global OTel providers back after InitProvider
// replaced them.
func restoreGlobals(t *testing.T) {
	t.Helper()
	mp, tp := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(mp)
		otel.SetTracerProvider(tp)
	})
}

func TestInitProvider_ServesMetrics(t *testing.T) {
	restoreGlobals(t)

	tel, err := InitProvider(context.Background(), ProviderConfig{Metrics: true, ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	if tel.Handler == nil {
		t.Fatal("Handler is nil with metrics enabled")
	}

	tel.Metrics.Connections.Add(context.Background(), 1)

	rec := httptest.NewRecorder()
	tel.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"jarvis_connections", "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output misses %q", want)
		}
	}
}

func TestInitProvider_MetricsDisabled(t *testing.T) {
	restoreGlobals(t)

	tel, err := InitProvider(context.Background(), ProviderConfig{})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	if tel.Handler != nil {
		t.Error("Handler set with metrics disabled")
	}
	if tel.Metrics == nil {
		t.Fatal("Metrics is nil")
	}
	// No-op instruments accept recordings.
	tel.Metrics.Connections.Add(context.Background(), 1)

	ctx, span := StartSpan(context.Background(), "probe")
	defer span.End()
	if TraceID(ctx) == "" {
		t.Error("tracer provider was not installed")
	}
}

func TestNewResource_MergesWithSDKDefault(t *testing.T) {
	res, err := newResource("jarvis", "1.2.3")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	for key, want := range map[attribute.Key]string{
		"service.name":    "jarvis",
		"service.version": "1.2.3",
	} {
		v, ok := res.Set().Value(key)
		if !ok || v.AsString() != want {
			t.Errorf("%s = %q, want %q", key, v.AsString(), want)
		}
	}
	if _, ok := res.Set().Value("telemetry.sdk.language"); !ok {
		t.Error("SDK default attributes missing")
	}
}
