package cmd

import (
	"context"
	"time"

	"go.ntppool.org/common/logger"
	"go.ntppool.org/common/tracing"
)

// InitTracing starts the OTLP trace exporter configured with the standard
// OTEL_* environment variables.
func InitTracing(ctx context.Context) (tracing.TpShutdownFunc, error) {
	tpShutdownFn, err := tracing.InitTracer(ctx,
		&tracing.TracerConfig{
			ServiceName: "compass-probe",
		},
	)
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		logger.FromContext(ctx).Debug("shutting down trace provider")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return tpShutdownFn(shutdownCtx)
	}, nil
}
