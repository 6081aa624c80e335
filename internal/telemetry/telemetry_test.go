package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		ServiceName:    "orderwatch-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		SampleRate:     1.0,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: ErrMissingServiceName},
		{name: "missing service version", mutate: func(c *Config) { c.ServiceVersion = "" }, wantErr: ErrMissingServiceVersion},
		{name: "negative sample rate", mutate: func(c *Config) { c.SampleRate = -0.1 }, wantErr: ErrInvalidSampleRate},
		{name: "sample rate above one", mutate: func(c *Config) { c.SampleRate = 1.1 }, wantErr: ErrInvalidSampleRate},
		{name: "valid config", mutate: func(*Config) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestInitialize(t *testing.T) {
	t.Run("returns error when config is invalid", func(t *testing.T) {
		cfg := testConfig()
		cfg.ServiceName = ""

		tel, err := Initialize(context.Background(), cfg)
		if err == nil {
			t.Fatal("expected error, got nil")
		}
		if tel != nil {
			t.Error("expected nil telemetry on error")
		}
	})

	t.Run("requires an endpoint when no exporter is provided", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableTracing = true

		_, err := Initialize(context.Background(), cfg)
		if !errors.Is(err, ErrMissingEndpoint) {
			t.Fatalf("expected ErrMissingEndpoint, got %v", err)
		}
	})

	t.Run("initializes tracing and metrics with provided exporters", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableTracing = true
		cfg.EnableMetrics = true

		tel, err := Initialize(context.Background(), cfg,
			WithTraceExporter(NewNoopTraceExporter()),
			WithMetricExporter(NewNoopMetricExporter()),
		)
		if err != nil {
			t.Fatalf("failed to initialize telemetry: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(ctx); err != nil {
				t.Errorf("shutdown failed: %v", err)
			}
		}()

		if tel.TracerProvider() == nil {
			t.Error("expected tracer provider")
		}
		if tel.MeterProvider() == nil {
			t.Error("expected meter provider")
		}
		if tel.Meter("test") == nil {
			t.Error("expected meter")
		}
	})

	t.Run("initializes with everything disabled", func(t *testing.T) {
		tel, err := Initialize(context.Background(), testConfig())
		if err != nil {
			t.Fatalf("failed to initialize telemetry: %v", err)
		}
		if tel.TracerProvider() != nil || tel.MeterProvider() != nil {
			t.Error("expected no providers")
		}
		if tel.Meter("test") == nil {
			t.Error("expected global meter fallback")
		}
		if err := tel.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	})
}

func TestCreateSampler(t *testing.T) {
	for _, rate := range []float64{-1, 0, 0.5, 1, 2} {
		if createSampler(rate) == nil {
			t.Errorf("expected sampler for rate %v", rate)
		}
	}
}
