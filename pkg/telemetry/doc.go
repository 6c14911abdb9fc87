// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry wires OpenTelemetry tracing and metrics for docqa.
//
// OpenTelemetry is the abstraction layer. Callers use the otel API
// directly through the small helpers here, and backends are swapped through
// configuration:
//
//   - Traces: "otlp" (gRPC), "stdout", or "none".
//   - Metrics: "prometheus", "stdout", or "none".
//
// With the prometheus exporter, otel instruments are exposed on the same
// registry as the client_golang collectors, so one /metrics endpoint
// serves both.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
//	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "Orchestrator.Send")
//	defer span.End()
package telemetry
