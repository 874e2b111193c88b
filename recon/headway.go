package recon

import (
	"math"
	"time"

	"transitperf.dev/events/model"
)

// The service day spans up to 48 hours of wall clock time, because a
// trip started before the 03:00 boundary can run past the following
// midnight.
const headwayBuckets = 48 * 3600 / bucketSeconds

type headwayKey struct {
	RouteID     string
	DirectionID int8
	StopID      string
	Bucket      int
}

// SmoothHeadways replaces each event's scheduled headway with the
// mean over its (route, direction, stop, half-hour bucket) group,
// rounded to the nearest 10 seconds. Raw headways pair a trip with
// whichever scheduled trip it happened to match, so adjacent events
// at one stop can disagree; the bucket mean is stable. Row count is
// preserved, and groups with no headways at all stay empty.
func SmoothHeadways(events []model.Event, date model.Date, loc *time.Location) []model.Event {
	midnight := date.Time(loc)

	keyFor := func(e model.Event) headwayKey {
		route := e.BranchRouteID
		if route == "" {
			route = e.RouteID
		}
		bucket := int(e.EventTime.Sub(midnight)/time.Second) / bucketSeconds
		if bucket < 0 {
			bucket = 0
		}
		if bucket >= headwayBuckets {
			bucket = headwayBuckets - 1
		}
		return headwayKey{route, e.DirectionID, e.StopID, bucket}
	}

	sums := map[headwayKey]int64{}
	counts := map[headwayKey]int64{}
	for _, e := range events {
		if e.Benchmarks.ScheduledHeadway == nil {
			continue
		}
		key := keyFor(e)
		sums[key] += *e.Benchmarks.ScheduledHeadway
		counts[key]++
	}

	out := make([]model.Event, len(events))
	for i, e := range events {
		key := keyFor(e)
		if n := counts[key]; n > 0 {
			mean := float64(sums[key]) / float64(n)
			smoothed := int64(math.Round(mean/10)) * 10
			e.Benchmarks.ScheduledHeadway = &smoothed
		}
		out[i] = e
	}
	return out
}
