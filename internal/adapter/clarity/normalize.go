package clarity

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// metricColumns maps report CSV columns to stored metric keys.
var metricColumns = map[string]string{
	"pm2_5ConcMass": "pm2_5",
	"pm10ConcMass":  "pm10",
	"no2Conc":       "no2",
	"o3Conc":        "o3",
	"relHumid":      "humidity",
	"temperature":   "temperature",
}

// ParseReportCSV converts one downloaded report file into measurement rows
// for ent. Columns are resolved by header name, reports can reorder them.
// Rows for other nodes and rows outside the half-open window are dropped;
// blank metric cells mean the node did not report that metric.
func ParseReportCSV(data []byte, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return domain.FetchResult{}, fmt.Errorf("parse report csv: %w", err)
	}
	if len(records) == 0 {
		return domain.FetchResult{}, nil
	}

	header := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		header[name] = i
	}
	nodeIdx, ok := header["nodeId"]
	if !ok {
		return domain.FetchResult{}, fmt.Errorf("report csv has no nodeId column")
	}
	timeIdx, ok := header["startOfPeriod"]
	if !ok {
		return domain.FetchResult{}, fmt.Errorf("report csv has no startOfPeriod column")
	}

	var res domain.FetchResult
	for _, record := range records[1:] {
		if len(record) <= nodeIdx || len(record) <= timeIdx {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceClarity,
				Reason: fmt.Sprintf("row has %d of %d columns", len(record), len(records[0])),
			})
			continue
		}
		if record[nodeIdx] != ent.ID {
			continue
		}

		observed, err := time.Parse(time.RFC3339, record[timeIdx])
		if err != nil {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceClarity,
				Reason: "unparseable startOfPeriod " + record[timeIdx],
			})
			continue
		}
		observed = observed.UTC()
		if observed.Before(win.Start) || !observed.Before(win.End) {
			continue
		}

		metrics, entryErr := parseMetrics(record, header)
		if entryErr != nil {
			res.Malformed = append(res.Malformed, entryErr)
			continue
		}

		res.Rows = append(res.Rows, domain.Row{
			EntityID:   ent.ID,
			Date:       domain.LocalDate(observed),
			Time:       domain.LocalTime(observed),
			Lat:        ent.Lat,
			Lon:        ent.Lon,
			Metrics:    metrics,
			ObservedAt: observed,
		})
	}
	return res, nil
}

func parseMetrics(record []string, header map[string]int) (map[string]float64, error) {
	metrics := make(map[string]float64, len(metricColumns))
	for column, name := range metricColumns {
		idx, ok := header[column]
		if !ok || idx >= len(record) || record[idx] == "" {
			continue
		}
		v, err := strconv.ParseFloat(record[idx], 64)
		if err != nil {
			return nil, &domain.MalformedEntryError{
				Source: domain.SourceClarity,
				Reason: fmt.Sprintf("unparseable %s %q", column, record[idx]),
			}
		}
		metrics[name] = domain.RoundMetric(v)
	}
	return metrics, nil
}
