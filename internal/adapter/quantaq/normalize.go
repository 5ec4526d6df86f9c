package quantaq

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

type dataResponse struct {
	Data []dataEntry `json:"data"`
	Meta struct {
		Page    int `json:"page"`
		Pages   int `json:"pages"`
		PerPage int `json:"per_page"`
	} `json:"meta"`
}

// dataEntry uses pointers because devices report different metric sets; a
// metric a device lacks is absent from the row rather than stored as zero.
type dataEntry struct {
	Timestamp string   `json:"timestamp"`
	PM1       *float64 `json:"pm1"`
	PM25      *float64 `json:"pm25"`
	PM10      *float64 `json:"pm10"`
	CO        *float64 `json:"co"`
	NO        *float64 `json:"no"`
	NO2       *float64 `json:"no2"`
	O3        *float64 `json:"o3"`
	RH        *float64 `json:"rh"`
	Temp      *float64 `json:"temp"`
}

func (e dataEntry) metrics() map[string]float64 {
	out := make(map[string]float64, 9)
	put := func(name string, v *float64) {
		if v != nil {
			out[name] = domain.RoundMetric(*v)
		}
	}
	put("pm1", e.PM1)
	put("pm2_5", e.PM25)
	put("pm10", e.PM10)
	put("co", e.CO)
	put("no", e.NO)
	put("no2", e.NO2)
	put("o3", e.O3)
	put("humidity", e.RH)
	put("temperature", e.Temp)
	return out
}

// Timestamps usually arrive as bare ISO-8601 in UTC; some endpoints include
// an offset.
var timestampLayouts = []string{"2006-01-02T15:04:05", time.RFC3339}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// NormalizeData converts a resampled data response into measurement rows for
// ent, keeping only samples inside the half-open window.
func NormalizeData(body []byte, ent domain.Entity, win domain.Window) (domain.FetchResult, error) {
	var data dataResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return domain.FetchResult{}, fmt.Errorf("decode data: %w", err)
	}

	var res domain.FetchResult
	for _, entry := range data.Data {
		observed, err := parseTimestamp(entry.Timestamp)
		if err != nil {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceQuantAQ,
				Reason: err.Error(),
			})
			continue
		}
		if observed.Before(win.Start) || !observed.Before(win.End) {
			continue
		}

		res.Rows = append(res.Rows, domain.Row{
			EntityID:   ent.ID,
			Date:       domain.LocalDate(observed),
			Time:       domain.LocalTime(observed),
			Lat:        ent.Lat,
			Lon:        ent.Lon,
			Metrics:    entry.metrics(),
			ObservedAt: observed,
		})
	}

	sort.Slice(res.Rows, func(i, j int) bool {
		return res.Rows[i].ObservedAt.Before(res.Rows[j].ObservedAt)
	})
	return res, nil
}
