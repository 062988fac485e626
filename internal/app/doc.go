// Package app provides the composition layer of the advisor gateway.
//
// # Architecture Role
//
// The app package sits above the upstream adapters and the gateway services
// and is responsible for composing them into a running application. It is
// NOT a business logic layer: aggregation and normalization belong in
// internal/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring and lifecycle
//	├── httpapi/            # HTTP routes and problem+json error mapping
//	└── metrics/            # Prometheus registry and recorders
//
// # Request Path
//
//	client
//	  → RealIP → correlation → recoverer → CORS → rate limit → write authz
//	  → httpapi router (metrics instrumented)
//	  → internal/services/<operation>
//	  → internal/upstream adapters
//	  → httputil.Executor (timeout, retry, breaker) → platform service
//
// # Lifecycle
//
// New builds one pooled HTTP client shared by every upstream executor, one
// executor and breaker per upstream, the services and the middleware chain.
// Start runs the scheduled jobs (rate limiter cleanup). Stop flips readiness
// to draining, stops the scheduler and releases idle connections; the HTTP
// server itself is shut down by the caller.
package app
