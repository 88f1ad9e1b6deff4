// Package telemetry is the observability stack of the manager: a zerolog
// logger, OpenTelemetry command spans, Prometheus metrics on a private registry
// and the ordered publisher of post-commit events.
//
// Every manager command runs inside StartCommand:
//
//	c := tel.StartCommand(ctx, "set_mapping", "cluster", clusterID)
//	err := doWork(c.Ctx)
//	c.End(err, kind, code)
//
// Nop returns a silent instance with inline event delivery for tests.
package telemetry
