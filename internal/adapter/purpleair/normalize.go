package purpleair

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// historyResponse is the column-oriented shape of /sensors/{index}/history:
// a fields array naming the columns and one data array per sample.
type historyResponse struct {
	SensorIndex json.Number     `json:"sensor_index"`
	Fields      []string        `json:"fields"`
	Data        [][]json.Number `json:"data"`
}

// NormalizeHistory converts a history response body into measurement rows
// for ent. Samples outside the half-open window are dropped, the API returns
// samples in arbitrary order so rows are sorted by timestamp, and entries
// that fail to parse are reported per entry without failing the batch.
func NormalizeHistory(body []byte, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		return domain.FetchResult{}, fmt.Errorf("decode history: %w", err)
	}

	tsIdx := -1
	for i, field := range hist.Fields {
		if field == "time_stamp" {
			tsIdx = i
			break
		}
	}
	if tsIdx < 0 {
		return domain.FetchResult{}, fmt.Errorf("history response has no time_stamp column")
	}

	var res domain.FetchResult
	for _, entry := range hist.Data {
		row, err := normalizeEntry(hist.Fields, entry, tsIdx, ent)
		if err != nil {
			res.Malformed = append(res.Malformed, err)
			continue
		}
		if row.ObservedAt.Before(win.Start) || !row.ObservedAt.Before(win.End) {
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	sort.Slice(res.Rows, func(i, j int) bool {
		return res.Rows[i].ObservedAt.Before(res.Rows[j].ObservedAt)
	})
	return res, nil
}

func normalizeEntry(fields []string, entry []json.Number, tsIdx int, ent domain.Entity) (domain.Row, error) {
	if len(entry) != len(fields) {
		return domain.Row{}, &domain.MalformedEntryError{
			Source: domain.SourcePurpleAir,
			Reason: fmt.Sprintf("entry has %d values for %d fields", len(entry), len(fields)),
		}
	}

	epoch, err := entry[tsIdx].Int64()
	if err != nil {
		return domain.Row{}, &domain.MalformedEntryError{
			Source: domain.SourcePurpleAir,
			Reason: "unparseable time_stamp " + entry[tsIdx].String(),
		}
	}
	observed := time.Unix(epoch, 0).UTC()

	metrics := make(map[string]float64, len(fields)-1)
	for i, field := range fields {
		name, ok := metricNames[field]
		if !ok {
			continue
		}
		v, err := entry[i].Float64()
		if err != nil {
			return domain.Row{}, &domain.MalformedEntryError{
				Source: domain.SourcePurpleAir,
				Reason: fmt.Sprintf("unparseable %s %q", field, entry[i].String()),
			}
		}
		metrics[name] = domain.RoundMetric(v)
	}

	return domain.Row{
		EntityID:   ent.ID,
		Date:       domain.LocalDate(observed),
		Time:       domain.LocalHourMinute(observed),
		Lat:        ent.Lat,
		Lon:        ent.Lon,
		Metrics:    metrics,
		ObservedAt: observed,
	}, nil
}
