// Command validate performs integrity checks over the mock fixture set
// produced by genmock: it re-runs every adapter normalizer on the raw vendor
// payloads, compares the output against the expected row fixtures, and checks
// the normalized-row invariants the storage layer depends on.
//
// Usage:
//
//	go run ./cmd/validate -dir data/mock
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/adapter/airnow"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/clarity"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/purpleair"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/quantaq"
	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// The fixture window and entities must match genmock.
var (
	fixtureStart = time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)
	fixtureEnd   = time.Date(2024, time.June, 6, 0, 0, 0, 0, time.UTC)

	purpleAirSensor = domain.Entity{ID: "98765", Lat: 40.71, Lon: -74.01}
	clarityNode     = domain.Entity{ID: "A7EBVNV1", Lat: 40.68, Lon: -73.97}
	quantAQDevice   = domain.Entity{ID: "MOD-00123", Lat: 42.36, Lon: -71.06}
	airNowSites     = map[string]domain.Entity{
		"840360610135": {ID: "840360610135", Lat: 40.81, Lon: -73.90},
		"840060371103": {ID: "840060371103", Lat: 34.07, Lon: -118.23},
	}
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "data/mock", "fixture directory produced by genmock")
	flag.Parse()

	if code := run(*dir); code != 0 {
		os.Exit(code)
	}
}

func run(dir string) int {
	fmt.Println("=== Air Quality Fixture Validation ===")
	fmt.Println()

	win := domain.Window{Start: fixtureStart, End: fixtureEnd}

	normalized, err := normalizeAll(dir, win)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: normalize payloads: %v\n", err)
		return 1
	}

	expected := make(map[string][]domain.Row, len(domain.Sources()))
	for _, source := range domain.Sources() {
		rows, err := loadJSON[domain.Row](filepath.Join(dir, "expected", source+".json"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load expected %s rows: %v\n", source, err)
			return 1
		}
		expected[source] = rows
	}

	phases := []*phase{
		validateNormalization(normalized, expected),
		validateRowInvariants(expected),
		validateDedupKeys(expected),
		validateZoneConversion(expected),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-44s %s\n", p.name, status)
	}

	fmt.Println()
	total := 0
	for _, source := range domain.Sources() {
		fmt.Printf("  %s: %d rows\n", source, len(expected[source]))
		total += len(expected[source])
	}
	fmt.Printf("  total: %d rows\n", total)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// normalizeAll re-runs the real adapter normalizers over the raw payload
// fixtures, exactly as the pipeline would.
func normalizeAll(dir string, win domain.Window) (map[string][]domain.Row, error) {
	out := make(map[string][]domain.Row, len(domain.Sources()))

	raw, err := os.ReadFile(filepath.Join(dir, "purpleair_history_"+purpleAirSensor.ID+".json"))
	if err != nil {
		return nil, err
	}
	res, err := purpleair.NormalizeHistory(raw, purpleAirSensor, win)
	if err != nil {
		return nil, fmt.Errorf("purpleair: %w", err)
	}
	out[domain.SourcePurpleAir] = res.Rows

	raw, err = os.ReadFile(filepath.Join(dir, "clarity_report_"+clarityNode.ID+".csv"))
	if err != nil {
		return nil, err
	}
	res, err = clarity.ParseReportCSV(raw, clarityNode, win)
	if err != nil {
		return nil, fmt.Errorf("clarity: %w", err)
	}
	out[domain.SourceClarity] = res.Rows

	raw, err = os.ReadFile(filepath.Join(dir, "quantaq_data_"+quantAQDevice.ID+".json"))
	if err != nil {
		return nil, err
	}
	res, err = quantaq.NormalizeData(raw, quantAQDevice, win)
	if err != nil {
		return nil, fmt.Errorf("quantaq: %w", err)
	}
	out[domain.SourceQuantAQ] = res.Rows

	files, err := filepath.Glob(filepath.Join(dir, "airnow", "HourlyData_*.dat"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("airnow: no hourly files under %s", dir)
	}
	sort.Strings(files)
	var airnowRows []domain.Row
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		airnowRows = append(airnowRows, airnow.ParseHourlyFile(raw, airNowSites, win).Rows...)
	}
	out[domain.SourceAirNow] = airnowRows

	return out, nil
}

func loadJSON[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ── Phase 1: Normalization Parity ──
// The normalizers must reproduce the expected row fixtures exactly.

func validateNormalization(normalized, expected map[string][]domain.Row) *phase {
	p := &phase{name: "Phase 1: Normalization Parity"}

	for _, source := range domain.Sources() {
		got, want := normalized[source], expected[source]
		if len(got) != len(want) {
			p.errorf("%s: normalized %d rows, expected fixture has %d", source, len(got), len(want))
			continue
		}
		for i := range want {
			compareRows(p, source, i, got[i], want[i])
		}
	}
	return p
}

func compareRows(p *phase, source string, i int, got, want domain.Row) {
	if got.EntityID != want.EntityID {
		p.errorf("%s row %d: entity_id: expected %q, got %q", source, i, want.EntityID, got.EntityID)
	}
	if got.Date != want.Date {
		p.errorf("%s row %d: date: expected %q, got %q", source, i, want.Date, got.Date)
	}
	if got.Time != want.Time {
		p.errorf("%s row %d: time: expected %q, got %q", source, i, want.Time, got.Time)
	}
	if !floatEq(got.Lat, want.Lat) || !floatEq(got.Lon, want.Lon) {
		p.errorf("%s row %d: coordinates: expected (%g, %g), got (%g, %g)", source, i, want.Lat, want.Lon, got.Lat, got.Lon)
	}
	if !got.ObservedAt.Equal(want.ObservedAt) {
		p.errorf("%s row %d: observed_at: expected %s, got %s", source, i,
			want.ObservedAt.Format(time.RFC3339), got.ObservedAt.Format(time.RFC3339))
	}
	if len(got.Metrics) != len(want.Metrics) {
		p.errorf("%s row %d: expected %d metrics, got %d", source, i, len(want.Metrics), len(got.Metrics))
		return
	}
	for name, wantV := range want.Metrics {
		gotV, ok := got.Metrics[name]
		if !ok {
			p.errorf("%s row %d: missing metric %q", source, i, name)
		} else if !floatEq(gotV, wantV) {
			p.errorf("%s row %d: metric %s: expected %g, got %g", source, i, name, wantV, gotV)
		}
	}
}

// ── Phase 2: Row Invariants ──
// Every normalized row must satisfy the constraints the storage layer and its
// downstream consumers rely on.

var (
	datePattern = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	timePattern = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)
)

func validateRowInvariants(expected map[string][]domain.Row) *phase {
	p := &phase{name: "Phase 2: Row Invariants"}

	for _, source := range domain.Sources() {
		var prev time.Time
		for i, row := range expected[source] {
			if row.EntityID == "" {
				p.errorf("%s row %d: entity_id is empty", source, i)
			}
			if !datePattern.MatchString(row.Date) {
				p.errorf("%s row %d: date %q is not MM/DD/YYYY", source, i, row.Date)
			}
			if !timePattern.MatchString(row.Time) {
				p.errorf("%s row %d: time %q is not HH:MM or HH:MM:SS", source, i, row.Time)
			}
			if row.Lat == 0 && row.Lon == 0 {
				p.errorf("%s row %d: coordinates are both zero", source, i)
			}
			if row.ObservedAt.IsZero() {
				p.errorf("%s row %d: observed_at is zero", source, i)
			} else if row.ObservedAt.Before(fixtureStart) || !row.ObservedAt.Before(fixtureEnd) {
				p.errorf("%s row %d: observed_at %s outside fixture window", source, i, row.ObservedAt.Format(time.RFC3339))
			}
			if row.ObservedAt.Before(prev) {
				p.errorf("%s row %d: observed_at %s precedes previous row", source, i, row.ObservedAt.Format(time.RFC3339))
			}
			prev = row.ObservedAt

			if len(row.Metrics) == 0 {
				p.errorf("%s row %d: no metrics", source, i)
			}
			for name, v := range row.Metrics {
				if !floatEq(v, domain.RoundMetric(v)) {
					p.errorf("%s row %d: metric %s=%g is not rounded to 2 decimals", source, i, name, v)
				}
			}
		}
	}
	return p
}

// ── Phase 3: Dedup Keys ──
// The storage layer enforces UNIQUE(entity_id, date, time); the fixture set
// must not rely on collisions.

func validateDedupKeys(expected map[string][]domain.Row) *phase {
	p := &phase{name: "Phase 3: Dedup Keys"}

	for _, source := range domain.Sources() {
		seen := make(map[domain.RowKey]int)
		for i, row := range expected[source] {
			key := row.Key()
			if first, ok := seen[key]; ok {
				p.errorf("%s row %d: dedup key %v already used by row %d", source, i, key, first)
				continue
			}
			seen[key] = i
		}
	}
	return p
}

// ── Phase 4: Zone Conversion ──
// Date and Time must be the US Eastern rendering of ObservedAt, with
// HH:MM:SS only where the source reports seconds.

func validateZoneConversion(expected map[string][]domain.Row) *phase {
	p := &phase{name: "Phase 4: Zone Conversion"}

	timeFn := map[string]func(time.Time) string{
		domain.SourcePurpleAir: domain.LocalHourMinute,
		domain.SourceClarity:   domain.LocalTime,
		domain.SourceAirNow:    domain.LocalHourMinute,
		domain.SourceQuantAQ:   domain.LocalTime,
	}

	for _, source := range domain.Sources() {
		for i, row := range expected[source] {
			if want := domain.LocalDate(row.ObservedAt); row.Date != want {
				p.errorf("%s row %d: date %q does not match observed_at (want %q)", source, i, row.Date, want)
			}
			if want := timeFn[source](row.ObservedAt); row.Time != want {
				p.errorf("%s row %d: time %q does not match observed_at (want %q)", source, i, row.Time, want)
			}
		}
	}
	return p
}

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
