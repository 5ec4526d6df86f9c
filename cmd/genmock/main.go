// Command genmock generates synthetic vendor payload fixtures for all four
// sources, plus the normalized rows the ingest pipeline would produce from
// them. It uses the actual adapter normalizers so the expected output matches
// real pipeline behavior.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/adapter/airnow"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/clarity"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/purpleair"
	"github.com/tanagerlabs/airdata-ingest/internal/adapter/quantaq"
	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// One fixed UTC day so every run produces identical fixtures.
var (
	fixtureStart = time.Date(2024, time.June, 5, 0, 0, 0, 0, time.UTC)
	fixtureEnd   = time.Date(2024, time.June, 6, 0, 0, 0, 0, time.UTC)
)

var (
	purpleAirSensor = domain.Entity{ID: "98765", Lat: 40.71, Lon: -74.01}
	clarityNode     = domain.Entity{ID: "A7EBVNV1", Lat: 40.68, Lon: -73.97}
	quantAQDevice   = domain.Entity{ID: "MOD-00123", Lat: 42.36, Lon: -71.06}
	airNowSites     = map[string]domain.Entity{
		"840360610135": {ID: "840360610135", Lat: 40.81, Lon: -73.90},
		"840060371103": {ID: "840060371103", Lat: 34.07, Lon: -118.23},
	}
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data/mock", "output directory for fixture files")
	flag.Parse()

	win := domain.Window{Start: fixtureStart, End: fixtureEnd}

	if err := genPurpleAir(*out, win); err != nil {
		return fmt.Errorf("purpleair: %w", err)
	}
	if err := genClarity(*out, win); err != nil {
		return fmt.Errorf("clarity: %w", err)
	}
	if err := genQuantAQ(*out, win); err != nil {
		return fmt.Errorf("quantaq: %w", err)
	}
	if err := genAirNow(*out, win); err != nil {
		return fmt.Errorf("airnow: %w", err)
	}
	return nil
}

func genPurpleAir(out string, win domain.Window) error {
	fields := []string{"time_stamp", "pm1.0_atm", "pm2.5_atm", "pm10.0_atm", "humidity", "temperature", "pressure"}

	var data [][]any
	for hour := 0; hour < 24; hour++ {
		ts := fixtureStart.Add(time.Duration(hour) * time.Hour)
		data = append(data, []any{
			ts.Unix(),
			diurnal(5.2, 3.1, hour),
			diurnal(8.4, 6.2, hour),
			diurnal(14.1, 7.8, hour),
			diurnal(62, -18, hour),
			diurnal(66, 12, hour),
			diurnal(1013.4, -2.2, hour),
		})
	}

	payload := map[string]any{
		"api_version":     "V1.0.14-0.0.58",
		"sensor_index":    98765,
		"start_timestamp": fixtureStart.Unix(),
		"end_timestamp":   fixtureEnd.Unix(),
		"average":         60,
		"fields":          fields,
		"data":            data,
	}

	raw, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(out, "purpleair_history_98765.json"), raw); err != nil {
		return err
	}

	res, err := purpleair.NormalizeHistory(raw, purpleAirSensor, win)
	if err != nil {
		return err
	}
	return writeExpected(out, domain.SourcePurpleAir, res)
}

func genClarity(out string, win domain.Window) error {
	var sb strings.Builder
	sb.WriteString("startOfPeriod,nodeId,pm2_5ConcMass,pm10ConcMass,no2Conc,relHumid,temperature\n")
	for hour := 0; hour < 24; hour++ {
		ts := fixtureStart.Add(time.Duration(hour) * time.Hour)
		sb.WriteString(strings.Join([]string{
			ts.Format(time.RFC3339),
			clarityNode.ID,
			formatValue(diurnal(9.1, 4.4, hour)),
			formatValue(diurnal(16.3, 6.9, hour)),
			formatValue(diurnal(21.5, 9.2, hour)),
			formatValue(diurnal(58, -14, hour)),
			formatValue(diurnal(64, 11, hour)),
		}, ","))
		sb.WriteString("\n")
	}

	raw := []byte(sb.String())
	if err := writeFile(filepath.Join(out, "clarity_report_"+clarityNode.ID+".csv"), raw); err != nil {
		return err
	}

	res, err := clarity.ParseReportCSV(raw, clarityNode, win)
	if err != nil {
		return err
	}
	return writeExpected(out, domain.SourceClarity, res)
}

func genQuantAQ(out string, win domain.Window) error {
	var entries []map[string]any
	for hour := 0; hour < 24; hour++ {
		ts := fixtureStart.Add(time.Duration(hour) * time.Hour)
		entry := map[string]any{
			"timestamp": ts.Format("2006-01-02T15:04:05"),
			"pm1":       diurnal(4.8, 2.6, hour),
			"pm25":      diurnal(7.9, 5.1, hour),
			"pm10":      diurnal(13.2, 6.4, hour),
			"rh":        diurnal(60, -16, hour),
			"temp":      diurnal(21, 7, hour),
		}
		// Gas channels report on alternating hours to exercise sparse metrics.
		if hour%2 == 0 {
			entry["o3"] = diurnal(31, 14, hour)
			entry["no2"] = diurnal(18.5, 8.3, hour)
		}
		entries = append(entries, entry)
	}

	payload := map[string]any{
		"data": entries,
		"meta": map[string]any{"page": 1, "pages": 1, "per_page": 1000},
	}

	raw, err := marshalJSON(payload)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(out, "quantaq_data_"+quantAQDevice.ID+".json"), raw); err != nil {
		return err
	}

	res, err := quantaq.NormalizeData(raw, quantAQDevice, win)
	if err != nil {
		return err
	}
	return writeExpected(out, domain.SourceQuantAQ, res)
}

func genAirNow(out string, win domain.Window) error {
	var combined domain.FetchResult
	for hour := 0; hour < 24; hour++ {
		ts := fixtureStart.Add(time.Duration(hour) * time.Hour)
		raw := []byte(airNowHourLines(ts, hour))

		name := fmt.Sprintf("HourlyData_%s.dat", ts.Format("2006010215"))
		if err := writeFile(filepath.Join(out, "airnow", name), raw); err != nil {
			return err
		}

		res := airnow.ParseHourlyFile(raw, airNowSites, win)
		combined.Rows = append(combined.Rows, res.Rows...)
		combined.Malformed = append(combined.Malformed, res.Malformed...)
	}
	return writeExpected(out, domain.SourceAirNow, combined)
}

// airNowHourLines emits one hourly file: one pipe-delimited line per
// (site, parameter), including parameters the pipeline does not track.
func airNowHourLines(ts time.Time, hour int) string {
	date := ts.Format("01/02/06")
	hhmm := ts.Format("15:04")

	var sb strings.Builder
	line := func(aqsid, name, offset, param, unit string, value float64) {
		fmt.Fprintf(&sb, "%s|%s|%s|%s|%s|%s|%s|%.3f|New York DEC\r\n",
			date, hhmm, aqsid, name, offset, param, unit, value)
	}

	line("840360610135", "IS 52", "-5", "OZONE", "PPB", diurnal(28, 16, hour))
	line("840360610135", "IS 52", "-5", "PM2.5", "UG/M3", diurnal(7.6, 4.8, hour))
	line("840360610135", "IS 52", "-5", "NO2", "PPB", diurnal(19.4, 9.6, hour))
	line("840360610135", "IS 52", "-5", "BARPR", "MILLIBAR", diurnal(1012, -3, hour))
	line("840060371103", "Los Angeles - N. Main", "-8", "PM2.5", "UG/M3", diurnal(11.3, 5.7, hour))
	line("840060371103", "Los Angeles - N. Main", "-8", "PM10", "UG/M3", diurnal(24.8, 9.1, hour))
	return sb.String()
}

// diurnal produces a deterministic value that peaks mid-afternoon, rounded to
// three decimals so the fixtures exercise the pipeline's two-decimal rounding.
func diurnal(base, amp float64, hour int) float64 {
	d := float64(hour - 14)
	if d < 0 {
		d = -d
	}
	return math.Round((base+amp*(1-d/14))*1000) / 1000
}

func writeExpected(out, source string, res domain.FetchResult) error {
	raw, err := marshalJSON(res.Rows)
	if err != nil {
		return err
	}
	if err := writeFile(filepath.Join(out, "expected", source+".json"), raw); err != nil {
		return err
	}

	log.Printf("%s: %d rows, %d malformed", source, len(res.Rows), len(res.Malformed))
	printFirstRow(source, res.Rows)
	return nil
}

func printFirstRow(source string, rows []domain.Row) {
	if len(rows) == 0 {
		return
	}
	r := rows[0]
	metrics := make([]string, 0, len(r.Metrics))
	for name, v := range r.Metrics {
		metrics = append(metrics, name+"="+strconv.FormatFloat(v, 'f', -1, 64))
	}
	sort.Strings(metrics)
	log.Printf("  first row: entity=%s date=%s time=%s observed_at=%s metrics=%s",
		r.EntityID, r.Date, r.Time, r.ObservedAt.Format(time.RFC3339), strings.Join(metrics, " "))
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	log.Printf("wrote %s", path)
	return nil
}
