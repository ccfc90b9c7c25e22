// Package api implements the local HTTP REST API and WebSocket server for
// the Device Portal service.
//
// This package provides:
//   - REST endpoints for the device inventory, connect and power operations
//   - On-demand system performance samples proxied from a device
//   - The audit trail
//   - A WebSocket hub broadcasting connection progress and performance samples
//   - JWT authentication for configured operators, with ticket-based WebSocket auth
//
// # Architecture
//
// The API sits beside the monitor. Inventory reads and writes go straight to
// the device registry; anything that talks to a device (connect, restart,
// shutdown, sysperf) is delegated to a DeviceController so the API never
// owns a Portal session itself.
//
// # Security
//
// Operators are declared in configuration. Viewers may read; operators may
// also change the inventory and drive devices. WebSocket connections use
// single-use tickets so the JWT never appears in a URL.
package api
