// Package middleware provides HTTP middleware for the dashboard.
//
// # Prometheus Metrics
//
// Prometheus records request counts and latencies per chi route pattern:
//   - dfsync_http_requests_total{route,code}
//   - dfsync_http_request_duration_seconds{route}
//
//	r := chi.NewRouter()
//	r.Use(middleware.Prometheus(middleware.WithRegistry(reg)))
//
// # OpenTelemetry
//
// OpenTelemetry starts a server span per request, named after the route:
//
//	r.Use(middleware.OpenTelemetry(middleware.WithTracerName("dfsync-dashboard")))
//
// The tracer comes from the global provider unless WithTracer is given.
package middleware
