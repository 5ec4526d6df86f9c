package domain

import (
	"math"
	"time"
	// Zone data is compiled in; conversion must not depend on host zoneinfo.
	_ "time/tzdata"
)

// eastern is the civil zone every stored date/time pair uses. Vendors report
// epoch seconds, ISO-8601 offsets, or GMT file fields; conversion goes through
// the zone database so standard/daylight transitions resolve correctly.
var eastern = mustLoadEastern()

func mustLoadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
	return loc
}

// RoundMetric rounds a measurement value to two decimal places, the precision
// carried through storage and reporting.
func RoundMetric(v float64) float64 {
	return math.Round(v*100) / 100
}

// LocalDate formats t as MM/DD/YYYY in US Eastern.
func LocalDate(t time.Time) string {
	return t.In(eastern).Format("01/02/2006")
}

// LocalTime formats t as HH:MM:SS in US Eastern.
func LocalTime(t time.Time) string {
	return t.In(eastern).Format("15:04:05")
}

// LocalHourMinute formats t as HH:MM in US Eastern, used by sources that
// report on whole minutes (AirNow hourly observations).
func LocalHourMinute(t time.Time) string {
	return t.In(eastern).Format("15:04")
}
