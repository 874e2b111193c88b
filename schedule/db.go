package schedule

import (
	"strings"
	"time"

	"transitperf.dev/events/model"
)

// MaxQueryParams caps the number of trip ids bound into a single
// query. The underlying drivers allow more, but staying well under
// the limit keeps every backend safe.
const MaxQueryParams = 900

// DB is one materialized schedule feed, queryable by trip id or
// service date. SQLite backs the per-process cache; Postgres backs
// fleet-shared deployments.
type DB interface {
	// WriteFeed bulk-loads a parsed feed. Overwriting an existing
	// feed is safe; builds are deterministic.
	WriteFeed(feed *Feed) error

	// StopTimesForTrips returns scheduled stop-time rows joined
	// with their trip's route and direction. len(tripIDs) must not
	// exceed MaxQueryParams; the Store handles batching.
	StopTimesForTrips(tripIDs []string) ([]model.ScheduledStopTime, error)

	// ActiveServices returns service ids in effect on the date,
	// applying calendar_dates exceptions.
	ActiveServices(date model.Date) ([]string, error)

	// TripIDsForServices returns ids of all trips running under
	// the given services. len(serviceIDs) must not exceed
	// MaxQueryParams.
	TripIDsForServices(serviceIDs []string) ([]string, error)

	Close() error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func weekdayBit(date model.Date) int8 {
	return 1 << date.Time(time.UTC).Weekday()
}
