// Package status exposes a query store's registry over HTTP.
//
// This package provides handlers for inspecting a running engine: a
// lightweight activity probe, a detailed JSON snapshot of every registered
// query, and a Prometheus metrics endpoint.
//
// # Basic Usage
//
//	mux := http.NewServeMux()
//	status.RegisterHandlers(mux, s, registry)
//
// registers:
//
//	/statusz  - plain-text activity probe (FETCHING or IDLE)
//	/queries  - JSON snapshot of the query registry
//	/metrics  - Prometheus exposition of the engine's metrics
//
// Individual handlers can also be mounted directly:
//
//	http.Handle("/queries", status.SnapshotHandler(s))
package status
