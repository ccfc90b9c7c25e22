// Package auth authenticates local API operators.
//
// Operators are declared in configuration (security.operators) with an
// Argon2id PHC password hash, produced by `portalctl hash-password`. Two roles
// exist:
//   - viewer: read the inventory, performance samples and audit trail
//   - operator: also register devices and run connect, restart, shutdown
//
// A successful login yields a short-lived HS256 JWT carrying the role.
package auth
