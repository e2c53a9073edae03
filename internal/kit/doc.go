// Package kit manages plant-monitoring kits and their configuration.
//
// A kit is a registered measurement station with an authenticated device
// identity (serial + secret). Each kit carries a set of peripherals (sensors),
// each peripheral references a definition that declares the quantity types it
// may report, and people are linked to kits through memberships.
//
// The package provides:
//   - Domain types (Kit, Peripheral, PeripheralDefinition, QuantityType,
//     Experiment, Membership)
//   - A Repository interface with a SQLite implementation
//   - A Registry that caches kit snapshots for the hot measurement path
//
// Thread Safety: Registry methods are safe for concurrent use. Repository
// implementations rely on database/sql connection pooling.
package kit
