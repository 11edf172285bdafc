// Package api provides the HTTP REST API and WebSocket server for Granary Core.
//
// It exposes telemetry ingest, the command queue, emergency shutdown,
// and device registry operations to facility dashboards and integrations,
// plus a WebSocket hub that streams alerts and command outcomes in real time.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
