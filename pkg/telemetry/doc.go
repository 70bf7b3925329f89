// Package telemetry provides logging, tracing, metrics and lifecycle events
// for the froyo-script host.
//
// Four pieces are bundled behind Telemetry:
//
//  1. Structured logging with zerolog
//  2. OpenTelemetry traces with stdout or OTLP/gRPC exporters
//  3. Prometheus metrics on a private registry
//  4. An event publisher for backend and measure lifecycle notifications
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// Loggers are plain zerolog loggers, scoped per component and per backend:
//
//	logger := telemetry.ForBackend(telemetry.Component(tel.Logger, "plugin"), "lua")
//	logger = telemetry.ForMeasure(logger, "measure.lua", "SetRoofInsulation")
//	logger.Info().Msg("Measure loaded")
//
// # Metrics
//
// Metrics are exposed at MetricsConfig.Path when ListenAddress is set:
//
//   - froyo_script_guest_calls_total{backend,operation,status}
//   - froyo_script_guest_call_duration_seconds{backend,operation}
//   - froyo_script_errors_total{backend,code}
//   - froyo_script_backend_loads_total{backend,status}
//   - froyo_script_backend_live{backend}
//   - froyo_script_measure_loads_total{backend,mode,kind,status}
//   - froyo_script_measure_load_duration_seconds{backend,mode}
//
// # Events
//
// Events are delivered inline by default. With EventsConfig.Async a
// single goroutine drains a bounded buffer, so subscribers still observe
// publish order:
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.Type, e.File)
//	}, telemetry.FilterByType(telemetry.EventTypeMeasureLoaded))
//
// Logs and stdout traces go to stderr; guest programs own stdout.
package telemetry
