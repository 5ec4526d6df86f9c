package airnow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tanagerlabs/airdata-ingest/internal/domain"
)

// Hourly file fields, pipe-delimited:
// date|time|AQSID|site name|GMT offset|parameter|unit|value|data source
const hourlyFieldCount = 9

// metricNames maps AirNow parameter names to stored metric keys. Parameters
// outside this set (visibility, barometric pressure, wind) are ignored.
var metricNames = map[string]string{
	"OZONE": "ozone",
	"PM2.5": "pm2_5",
	"PM10":  "pm10",
	"NO2":   "no2",
	"CO":    "co",
	"SO2":   "so2",
}

// accKey identifies one site-hour while a file is being folded into rows.
type accKey struct {
	siteID string
	unix   int64
}

// ParseHourlyFile folds an hourly data file into one row per configured site
// and observation hour. The file carries one line per (site, parameter), so
// each row accumulates metrics line by line under an explicit key; a missing
// parameter leaves a gap in that row only. Lines for unknown sites or
// untracked parameters are skipped; unparseable lines are reported without
// failing the file.
func ParseHourlyFile(data []byte, sites map[string]domain.Entity, win domain.Window) domain.FetchResult {
	var res domain.FetchResult

	acc := make(map[accKey]*domain.Row)
	var order []accKey

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "|")
		if len(fields) < hourlyFieldCount {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceAirNow,
				Reason: fmt.Sprintf("line has %d of %d fields", len(fields), hourlyFieldCount),
			})
			continue
		}

		siteID := fields[2]
		site, tracked := sites[siteID]
		if !tracked {
			continue
		}
		metric, tracked := metricNames[fields[5]]
		if !tracked {
			continue
		}

		// File timestamps are GMT; the per-site offset column is ignored in
		// favor of zone-aware conversion.
		observed, err := time.ParseInLocation("01/02/06 15:04", fields[0]+" "+fields[1], time.UTC)
		if err != nil {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceAirNow,
				Reason: fmt.Sprintf("unparseable observation time %q %q", fields[0], fields[1]),
			})
			continue
		}
		if observed.Before(win.Start) || !observed.Before(win.End) {
			continue
		}

		value, err := strconv.ParseFloat(strings.TrimSpace(fields[7]), 64)
		if err != nil {
			res.Malformed = append(res.Malformed, &domain.MalformedEntryError{
				Source: domain.SourceAirNow,
				Reason: fmt.Sprintf("unparseable %s value %q", fields[5], fields[7]),
			})
			continue
		}

		key := accKey{siteID: siteID, unix: observed.Unix()}
		row, ok := acc[key]
		if !ok {
			row = &domain.Row{
				EntityID:   siteID,
				Date:       domain.LocalDate(observed),
				Time:       domain.LocalHourMinute(observed),
				Lat:        site.Lat,
				Lon:        site.Lon,
				Metrics:    make(map[string]float64, len(metricNames)),
				ObservedAt: observed,
			}
			acc[key] = row
			order = append(order, key)
		}
		row.Metrics[metric] = domain.RoundMetric(value)
	}

	for _, key := range order {
		res.Rows = append(res.Rows, *acc[key])
	}
	return res
}
