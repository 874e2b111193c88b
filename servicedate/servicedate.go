// Package servicedate converts wall-clock instants to the operator's
// service-day concept. A service day runs from 03:00 local to 03:00
// the next calendar day, because schedules run past midnight.
package servicedate

import (
	"time"

	"transitperf.dev/events/model"
)

// The operator's timezone. Loaded once; the tzdata is required for
// correct behavior across DST transitions.
var Eastern = mustLoad("America/New_York")

// Instants before this local hour belong to the previous calendar
// date's service day.
const boundaryHour = 3

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// ServiceDate returns the service date owning the given instant. The
// boundary is pinned to wall-clock 03:00 in the operator timezone:
// on the fall-back transition night 02:59:59 EST still belongs to the
// prior day and 03:00:00 EST to the new one, regardless of how many
// hours have elapsed since midnight.
func ServiceDate(t time.Time) model.Date {
	local := t.In(Eastern)
	if local.Hour() < boundaryHour {
		local = local.AddDate(0, 0, -1)
	}
	return model.DateOf(local)
}

// Current returns the service date in effect right now.
func Current() model.Date {
	return ServiceDate(time.Now())
}
