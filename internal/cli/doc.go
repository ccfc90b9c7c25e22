// Package cli implements the portalctl command tree.
//
// One-off commands (connect, info, ipconfig, sysperf, restart, shutdown,
// rename) open a Portal session against --address or a registered --device.
// The devices and audit commands work on the local SQLite registry, and serve
// runs the long-lived monitor with the local API and message buses.
package cli
