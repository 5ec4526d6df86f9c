package domain

import (
	"fmt"
	"time"
)

// Source identifiers. Each source owns one measurement table and its own
// checkpoint keys; no state is shared between sources.
const (
	SourcePurpleAir = "purpleair"
	SourceClarity   = "clarity"
	SourceAirNow    = "airnow"
	SourceQuantAQ   = "quantaq"
)

// Sources lists every known source identifier.
func Sources() []string {
	return []string{SourcePurpleAir, SourceClarity, SourceAirNow, SourceQuantAQ}
}

// Entity is an addressable unit within a source: a PurpleAir sensor, Clarity
// node, AirNow monitoring site, or QuantAQ device. Coordinates come from
// configuration, never from vendor payloads.
type Entity struct {
	ID  string
	Lat float64
	Lon float64
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// CheckpointKey addresses one checkpoint record. Entity is empty for
// source-wide checkpoints (AirNow, whose hourly files cover every site at once).
type CheckpointKey struct {
	Source string
	Entity string
}

func (k CheckpointKey) String() string {
	if k.Entity == "" {
		return k.Source
	}
	return k.Source + "/" + k.Entity
}

// Row is the normalized measurement shape shared by every source. Metrics is
// keyed by metric name because sources report heterogeneous field sets (six
// fields for some vendors, a dozen for others); values are pre-rounded to two
// decimal places by the normalizers.
type Row struct {
	EntityID   string             `json:"entity_id"`
	Date       string             `json:"date"` // MM/DD/YYYY, US Eastern
	Time       string             `json:"time"` // HH:MM or HH:MM:SS, US Eastern
	Lat        float64            `json:"lat"`
	Lon        float64            `json:"lon"`
	Metrics    map[string]float64 `json:"metrics"`
	ObservedAt time.Time          `json:"observed_at"` // raw UTC instant
}

// Key returns the triple the storage layer enforces unique.
func (r Row) Key() RowKey {
	return RowKey{EntityID: r.EntityID, Date: r.Date, Time: r.Time}
}

// RowKey is the dedup key: at most one stored row per key.
type RowKey struct {
	EntityID string
	Date     string
	Time     string
}

// FetchResult carries the outcome of fetching and normalizing one window:
// the rows that parsed cleanly plus the per-entry errors for those that did
// not. Malformed entries never abort their siblings.
type FetchResult struct {
	Rows      []Row
	Malformed []error
}

// WriteResult reports what a deduplicated batch write left in storage.
// MaxPersisted is the greatest observation timestamp now stored for the
// batch's entities, whether written by this batch or already present; it is
// the only value checkpoints may advance to. Zero when the batch was empty.
type WriteResult struct {
	MaxPersisted time.Time
	Inserted     int
}

// CheckpointStatus is one checkpoint record as exposed on the ops endpoint.
type CheckpointStatus struct {
	Source        string    `json:"source"`
	Entity        string    `json:"entity,omitempty"`
	LastConfirmed time.Time `json:"last_confirmed"`
}
