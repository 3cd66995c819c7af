// Package entitlement contains the domain model for the entitlement and
// usage metering engine: the per-request plan snapshot, the gate decision
// record, and the ports the engine depends on (snapshot loading and
// limit notifications).
//
// The engine itself lives in the application layer; this package holds
// only types and contracts so that infrastructure and application code
// can depend on it without cycles.
package entitlement
