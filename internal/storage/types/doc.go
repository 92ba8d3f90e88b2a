// Package types defines the core data types used throughout the storage system.
//
// Key types:
//   - Sample: A single host measurement (system + GPU + process snapshots)
//   - PartitionKey: An (ISO year, ISO week) partition identifier
//   - Window: A query span expressed as count × unit
//   - ProcessInterval: A query-time reconstructed process lifetime
package types
