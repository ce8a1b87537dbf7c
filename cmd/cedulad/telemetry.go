package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"cedulacheck/lib/serviceutil"
	"cedulacheck/lib/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	tel, err := telemetry.SetupFromEnv(ctx, "cedulad")
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no telemetry.json5 found, otel export disabled")
		return
	}
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}

	go func() {
		<-ctx.Done()
		err := tel.Shutdown(context.Background())
		if err != nil {
			slog.Error("failed to shut down telemetry", "err", err)
		}
	}()
}
