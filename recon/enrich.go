package recon

import (
	"fmt"
	"sort"
	"time"

	"transitperf.dev/events/model"
)

// Fallback imputation buckets the service day into fixed windows.
const bucketSeconds = 30 * 60

// Outcome reports how far schedule enrichment got. Callers decide
// policy; the stage never swallows failure.
type Outcome int

const (
	// Every event carries a scheduled travel time.
	OutcomeFull Outcome = iota

	// Events were enriched where possible; some remain without
	// scheduled fields.
	OutcomePartial

	// No schedule data was available. Events pass through
	// untouched.
	OutcomeFailed
)

type EnrichResult struct {
	Events  []model.Event
	Outcome Outcome

	// Why enrichment was partial or failed.
	Reason error

	Matched int
	Imputed int
}

// Failed wraps events in a failed enrichment result. Used by callers
// when the schedule itself could not be fetched: events are still
// written, just without scheduled fields.
func Failed(events []model.Event, reason error) EnrichResult {
	return EnrichResult{Events: events, Outcome: OutcomeFailed, Reason: reason}
}

type scheduleKey struct {
	RouteID     string
	DirectionID int8
	StopID      string
}

type tripStart struct {
	ArrivalSeconds int
	TripID         string
}

type bucketKey struct {
	RouteID     string
	DirectionID int8
	StopID      string
	Bucket      int
}

type scheduleIndex struct {
	// Arrival offset at each (trip, stop).
	arrivals map[string]map[string]int

	// Earliest scheduled arrival per trip; the trip's own start.
	starts map[string]int

	// Scheduled arrivals at each (branch-route, direction, stop),
	// sorted, for nearest-start matching.
	startsByKey map[scheduleKey][]tripStart

	// Headway between consecutive scheduled trips per (trip, stop).
	headways map[string]map[string]int64

	// Median scheduled travel time per (plain-route, direction,
	// stop, half-hour bucket). Deliberately not branch-aware;
	// documented approximate behavior.
	medians map[bucketKey]int64
}

func buildScheduleIndex(scheduled []model.ScheduledStopTime) (*scheduleIndex, error) {
	byTrip := map[string][]model.ScheduledStopTime{}
	for _, st := range scheduled {
		byTrip[st.TripID] = append(byTrip[st.TripID], st)
	}

	idx := &scheduleIndex{
		arrivals:    map[string]map[string]int{},
		starts:      map[string]int{},
		startsByKey: map[scheduleKey][]tripStart{},
		headways:    map[string]map[string]int64{},
		medians:     map[bucketKey]int64{},
	}

	branchByTrip := map[string]string{}
	for tripID, sts := range byTrip {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].ArrivalSeconds < sts[j].ArrivalSeconds
		})
		byTrip[tripID] = sts

		branch, err := scheduledBranchFor(sts[0].RouteID, sts)
		if err != nil {
			return nil, fmt.Errorf("scheduled trip %s: %w", tripID, err)
		}
		branchByTrip[tripID] = branch

		idx.starts[tripID] = sts[0].ArrivalSeconds
		idx.arrivals[tripID] = map[string]int{}
		for _, st := range sts {
			if _, seen := idx.arrivals[tripID][st.StopID]; !seen {
				idx.arrivals[tripID][st.StopID] = st.ArrivalSeconds
			}
		}
	}

	// Index scheduled arrivals per key for matching, and compute
	// headways as the gap between consecutive trips at a key.
	arrivalsByKey := map[scheduleKey][]model.ScheduledStopTime{}
	for tripID, sts := range byTrip {
		for _, st := range sts {
			key := scheduleKey{branchByTrip[tripID], st.DirectionID, st.StopID}
			arrivalsByKey[key] = append(arrivalsByKey[key], st)
		}
	}
	for key, sts := range arrivalsByKey {
		sort.Slice(sts, func(i, j int) bool {
			return sts[i].ArrivalSeconds < sts[j].ArrivalSeconds
		})

		starts := make([]tripStart, len(sts))
		for i, st := range sts {
			starts[i] = tripStart{ArrivalSeconds: st.ArrivalSeconds, TripID: st.TripID}
			if i > 0 {
				headway := int64(st.ArrivalSeconds - sts[i-1].ArrivalSeconds)
				if idx.headways[st.TripID] == nil {
					idx.headways[st.TripID] = map[string]int64{}
				}
				idx.headways[st.TripID][st.StopID] = headway
			}
		}
		idx.startsByKey[key] = starts
	}

	// Bucketed medians over the full day's scheduled data, keyed
	// by the plain route id.
	byBucket := map[bucketKey][]int{}
	for tripID, sts := range byTrip {
		start := idx.starts[tripID]
		for _, st := range sts {
			key := bucketKey{
				RouteID:     st.RouteID,
				DirectionID: st.DirectionID,
				StopID:      st.StopID,
				Bucket:      st.ArrivalSeconds / bucketSeconds,
			}
			byBucket[key] = append(byBucket[key], st.ArrivalSeconds-start)
		}
	}
	for key, tts := range byBucket {
		idx.medians[key] = median(tts)
	}

	return idx, nil
}

func median(values []int) int64 {
	sort.Ints(values)
	n := len(values)
	if n%2 == 1 {
		return int64(values[n/2])
	}
	return int64(values[n/2-1]+values[n/2]) / 2
}

// Enrich matches live trips to scheduled trips and attaches
// scheduled travel times and headways. Fields already populated by
// the upstream feed are preserved. date and loc anchor event times
// to seconds since service-day midnight.
func Enrich(events []model.Event, scheduled []model.ScheduledStopTime, date model.Date, loc *time.Location) EnrichResult {
	if len(scheduled) == 0 {
		return Failed(events, fmt.Errorf("no scheduled stop times for %s", date))
	}

	idx, err := buildScheduleIndex(scheduled)
	if err != nil {
		return Failed(events, err)
	}

	midnight := date.Time(loc)

	// Find each live trip's start: its earliest event.
	startEvent := map[tripKey]model.Event{}
	for _, e := range events {
		key := keyOf(e)
		cur, found := startEvent[key]
		if !found || e.EventTime.Before(cur.EventTime) {
			startEvent[key] = e
		}
	}

	// Match each live trip to the scheduled trip with the nearest
	// start at the same (branch-route, direction, first-stop) key.
	matchedTrip := map[tripKey]string{}
	for key, start := range startEvent {
		branch := start.BranchRouteID
		if branch == "" {
			branch = start.RouteID
		}
		sk := scheduleKey{branch, key.DirectionID, start.StopID}
		candidates := idx.startsByKey[sk]
		if len(candidates) == 0 {
			continue
		}

		startSeconds := int(start.EventTime.Sub(midnight) / time.Second)
		pos := sort.Search(len(candidates), func(i int) bool {
			return candidates[i].ArrivalSeconds >= startSeconds
		})
		best := -1
		for _, cand := range []int{pos - 1, pos} {
			if cand < 0 || cand >= len(candidates) {
				continue
			}
			if best == -1 || abs(candidates[cand].ArrivalSeconds-startSeconds) < abs(candidates[best].ArrivalSeconds-startSeconds) {
				best = cand
			}
		}
		matchedTrip[key] = candidates[best].TripID
	}

	result := EnrichResult{Events: make([]model.Event, len(events))}
	missing := 0
	for i, e := range events {
		if schedID, found := matchedTrip[keyOf(e)]; found {
			if arrival, ok := idx.arrivals[schedID][e.StopID]; ok {
				if e.Benchmarks.ScheduledTravelTime == nil {
					tt := int64(arrival - idx.starts[schedID])
					e.Benchmarks.ScheduledTravelTime = &tt
				}
				if e.Benchmarks.ScheduledHeadway == nil {
					if headway, ok := idx.headways[schedID][e.StopID]; ok {
						h := headway
						e.Benchmarks.ScheduledHeadway = &h
					}
				}
				result.Matched++
			}
		}

		// Fallback: bucketed median for events the matched trip
		// does not cover (e.g. interlined service diverging from
		// the scheduled path).
		if e.Benchmarks.ScheduledTravelTime == nil {
			bucket := int(e.EventTime.Sub(midnight)/time.Second) / bucketSeconds
			key := bucketKey{e.RouteID, e.DirectionID, e.StopID, bucket}
			if m, ok := idx.medians[key]; ok {
				tt := m
				e.Benchmarks.ScheduledTravelTime = &tt
				result.Imputed++
			}
		}

		if e.Benchmarks.ScheduledTravelTime == nil {
			missing++
		}
		result.Events[i] = e
	}

	if missing > 0 {
		result.Outcome = OutcomePartial
		result.Reason = fmt.Errorf("%d of %d events have no scheduled travel time", missing, len(events))
	}
	return result
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
