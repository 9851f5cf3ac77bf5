// Package domain models weather-station observation data and the pure
// transforms that turn raw per-station payloads into one gridded dataset.
//
// # Data Source
//
// Observations originate from automated weather-station networks exposed as
// per-station, per-month REST resources. The first supported network is the
// Chilean Dirección Meteorológica (DMC) "red EMA" service, whose payloads are
// JSON objects with one record per observation moment. The network adapter
// normalizes every payload into [ObservationRecord] at the fetch boundary, so
// everything in this package operates on one fixed shape: a flat mapping from
// field name to scalar string value, with one field holding the timestamp.
//
// # Timestamps
//
// The timestamp field name is network-specific and configured per run (DMC
// uses "momento"). Accepted layouts:
//
//	2006-01-02 15:04:05   (DMC native, assumed UTC)
//	RFC 3339              (2006-01-02T15:04:05Z07:00)
//	2006-01-02T15:04:05   (assumed UTC)
//	2006-01-02            (assumed UTC midnight)
//
// Rows whose timestamp is absent or unparseable are dropped. A station whose
// batches contain no parseable timestamp at all yields an empty table and is
// excluded from the run's output. The timestamp field being absent as a key
// from every record is different: that means the caller configured the wrong
// field name, and [BuildTable] fails with [ErrTimeFieldMissing].
//
// # Numeric Coercion
//
// Measurement values arrive as strings and are coerced to float64 by
// best-effort numeric extraction: the first substring matching
//
//	[-+]?\d*\.?\d+
//
// is parsed, so "12.3 mm" yields 12.3 and "988.1hPa" yields 988.1. Extraction
// failure yields NaN for that one cell, never an error. NaN is the "missing"
// sentinel throughout: in tables, in grids, and in the persisted CSV format
// (where it round-trips as the empty cell).
//
// # Column Names
//
// Column names are sanitized for the persisted tabular format by rewriting
// "/" to "|" (measurement units such as ug/m3 appear in source column names).
// Sanitization happens once, during table construction.
//
// # Merge Semantics
//
// Tables are merged append-then-dedup: old rows concatenated before new rows,
// then deduplicated by timestamp with the later occurrence winning. Newly
// fetched data therefore always takes precedence over previously persisted
// data for the same moment. Tables are never edited in place; every operation
// returns a derived table.
//
// # Grid Layout
//
// [BuildGrid] unions per-station tables into a dense (variable, time,
// station) block: the time axis is the sorted union of all timestamps, the
// station axis the ordered ids matched against the registry, and each
// variable's array is exactly len(times) x len(stations) with NaN filling
// cells a station never observed. Latitude, longitude, and requested extra
// station attributes ride along as vectors aligned with the station axis.
package domain
