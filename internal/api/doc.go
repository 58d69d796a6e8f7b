// Package api implements the FrameGate HTTP API and WebSocket event stream.
//
// This package provides:
//   - REST endpoints for TV discovery, selection, status and artwork
//   - Thumbnail delivery backed by the persistent thumbnail cache
//   - A WebSocket hub that relays device events to the gallery UI
//   - Middleware stack (request ID, logging, recovery, CORS, body limits)
//   - The embedded gallery frontend with SPA fallback
//
// # Architecture
//
//	browser ──HTTP──▶ router ──▶ device.Registry ──▶ Connection ──▶ TV
//	   ▲                 │
//	   │                 └──▶ discovery.Scanner ──SSDP──▶ LAN
//	   └────WS──── Hub ◀── events.Fanout ◀── registry, connections, scanner
//
// Device failures are mapped to HTTP statuses in one place (writeDeviceError):
// an unreachable TV is 503, unknown content is 404 and an invalid manual
// address is 400. GET /api/v1/tv/status always answers 200 and reports
// reachability in its connected flag.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
