// Package storage implements a time-partitioned store for host metrics.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Writer    │────▶│  Partition  │────▶│   Partlog   │
//	│ (Appender)  │     │   Manager   │     │  (weekly)   │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	       │                   │
//	       ▼                   ▼
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│  Broadcast  │     │    Query    │     │   Archive   │
//	│ (live tail) │     │   Service   │     │  (Parquet)  │
//	└─────────────┘     └─────────────┘     └─────────────┘
//
// The storage system provides:
//   - Durable appends into weekly ISO-week partition files
//   - Automatic partition rollover at week boundaries
//   - Cross-partition window queries with process-lifetime reconstruction
//   - Non-blocking live fan-out to subscribers with explicit gap events
//   - Parquet archival of sealed partitions and DuckDB analytics over them
//   - DDSketch-based percentile summaries
//   - Count-based partition retention with artifact pruning
package storage
