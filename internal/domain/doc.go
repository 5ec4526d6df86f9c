// Package domain models normalized air-quality measurements and the
// checkpointing vocabulary shared by all vendor pipelines.
//
// # Data Sources
//
// Measurements come from four independent vendor feeds, each polled in batch:
//
//	PurpleAir  per-sensor history API, column-oriented JSON, epoch-second timestamps
//	Clarity    per-node asynchronous report flow (submit, poll, download CSV),
//	           ISO-8601 timestamps with offset
//	AirNow     hourly pipe-delimited observation files covering all monitoring
//	           sites, GMT date/time fields, one line per (site, parameter)
//	QuantAQ    per-device resampled JSON endpoint, ISO-8601 timestamps
//
// Entities (sensors, nodes, sites, devices) are configured with fixed
// coordinates; coordinates are never taken from vendor payloads.
//
// # Row Conventions
//
// Every source normalizes into the same row shape regardless of which metrics
// it reports:
//
//	Date     MM/DD/YYYY in US Eastern
//	Time     HH:MM:SS (HH:MM for hourly AirNow observations) in US Eastern
//	Metrics  numeric fields rounded to 2 decimal places, keyed by metric name
//
// Timestamp conversion is always zone-aware via the America/New_York zone
// database entry, so standard/daylight transitions land on the correct local
// clock. A fixed UTC offset would mislabel every row for half the year.
//
// # Dedup Key
//
// At most one row exists per (entity id, date, time). The storage layer
// enforces this with a unique constraint; re-fetching an overlapping range is
// expected and duplicate rows are silently skipped, which is what makes
// checkpoint recovery safe.
//
// # Checkpoints
//
// A checkpoint records the most recent confirmed-persisted measurement
// timestamp for a (source, entity) key, or for a whole source when the feed is
// fetched source-wide. Checkpoints only ever move forward, and only to values
// reported back by the storage layer after a durable write.
package domain
