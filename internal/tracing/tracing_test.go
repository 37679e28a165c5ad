package tracing

import (
	"context"
	"testing"
)

func TestNewProvider_DisabledIsNoOp(t *testing.T) {
	p, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("expected no error for disabled provider, got %v", err)
	}
	if p.IsEnabled() {
		t.Error("expected IsEnabled to be false")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("expected nil shutdown for disabled provider, got %v", err)
	}
	if p.Tracer("test") == nil {
		t.Error("expected a fallback tracer from disabled provider")
	}
}

func TestNewProvider_RequiresServiceName(t *testing.T) {
	_, err := NewProvider(Config{Enabled: true, SamplingRate: 1.0})
	if err == nil {
		t.Fatal("expected error for missing service name")
	}
}

func TestNewProvider_RejectsBadSamplingRate(t *testing.T) {
	for _, rate := range []float64{-0.1, 1.5} {
		_, err := NewProvider(Config{Enabled: true, ServiceName: "test", SamplingRate: rate})
		if err == nil {
			t.Errorf("expected error for sampling rate %v", rate)
		}
	}
}

func TestNewProvider_RejectsUnknownExporter(t *testing.T) {
	_, err := NewProvider(Config{
		Enabled:      true,
		ServiceName:  "test",
		SamplingRate: 1.0,
		ExporterType: "jaeger-thrift",
	})
	if err == nil {
		t.Fatal("expected error for unknown exporter type")
	}
}
