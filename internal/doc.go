// Package ahoycrawler polls an AhoyDTU solar inverter gateway over HTTP and
// persists the readings of every inverter.
//
// # Architecture
//
// The crawler is structured into several packages:
//   - api: HTTP client for the AhoyDTU JSON API
//   - series: Field catalogs, row buffers and their drain disciplines
//   - crawler: Per-inverter scheduling state and crawl passes
//   - scheduler: The loop that runs passes, flushes and sleeps
//   - storage: CSV, SQL, InfluxDB and MQTT sinks
//   - config: YAML configuration with environment overrides and hot reload
//   - grpc: Health service reflecting the outcome of the last pass
//   - metrics: Prometheus collectors
//   - models: Wire types of the device API
//
// Key Features
//
//   - Scheduling:
//     Every inverter keeps the interval it was first crawled with and is
//     crawled again once it is due. A failed crawl leaves it due.
//
//   - Buffering:
//     Readings stay in memory and are flushed every fifth pass and on
//     shutdown. Each row is persisted at most once.
//
//   - Storage:
//     CSV files and MQTT messages are written row by row, SQL tables and
//     InfluxDB batches all or nothing.
//
// Example Usage
//
//	ahoycrawler -config config.yaml
package ahoycrawler
