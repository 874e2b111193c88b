// Package recon transforms raw per-vehicle positional records into
// explicit arrival/departure events and reconciles them against the
// published schedule.
package recon

import (
	"fmt"
	"sort"
	"time"

	"transitperf.dev/events/model"
)

// Trip id prefixes marking movements that carry no passengers
// (repositioning, test trains) or that could not be tied to a
// scheduled trip upstream.
var nonRevenuePrefixes = []string{"NONREV-", "ADDED-"}

// The upstream source changed its labeling semantics on this date:
// from here on, marker-prefixed trip ids are legitimate revenue
// service and must be retained.
var nonRevenueCutoff = model.NewDate(2023, 11, 30)

// Alias platform ids that the reference schedule does not recognize,
// mapped to their canonical numeric equivalents.
var canonicalStopIDs = map[string]string{
	"Union Square-01":  "70503",
	"Union Square-02":  "70504",
	"Medford/Tufts-01": "70511",
	"Medford/Tufts-02": "70512",
}

// Explode converts each raw record into up to two events: an ARRIVAL
// at the record's stop (from the stop timestamp) and a DEPARTURE
// (from the move timestamp). Departure stop ids still point at the
// recording stop; CorrectDepartureStops fixes that. Epoch timestamps
// are converted to the operator's local zone.
func Explode(records []model.RawPositionRecord, loc *time.Location) []model.Event {
	events := []model.Event{}
	for _, r := range records {
		if r.StopTimestamp != nil {
			events = append(events, eventFromRecord(r, model.Arrival, *r.StopTimestamp, loc))
		}
		if r.MoveTimestamp != nil {
			events = append(events, eventFromRecord(r, model.Departure, *r.MoveTimestamp, loc))
		}
	}
	return events
}

func eventFromRecord(r model.RawPositionRecord, et model.EventType, epoch int64, loc *time.Location) model.Event {
	return model.Event{
		ServiceDate:  r.ServiceDate,
		RouteID:      r.RouteID,
		TripID:       r.TripID,
		DirectionID:  r.DirectionID,
		StopID:       r.StopID,
		StopSequence: r.StopSequence,
		VehicleID:    r.VehicleID,
		VehicleLabel: r.VehicleLabel,
		EventType:    et,
		EventTime:    time.Unix(epoch, 0).In(loc),
		Benchmarks:   r.Benchmarks,
	}
}

type tripKey struct {
	ServiceDate model.Date
	RouteID     string
	TripID      string
	VehicleID   string
	DirectionID int8
}

func keyOf(e model.Event) tripKey {
	return tripKey{
		ServiceDate: e.ServiceDate,
		RouteID:     e.RouteID,
		TripID:      e.TripID,
		VehicleID:   e.VehicleID,
		DirectionID: e.DirectionID,
	}
}

// CorrectDepartureStops rewrites each DEPARTURE's stop id to that of
// the most recent ARRIVAL with a strictly smaller stop sequence in
// the same trip instance: a recorded departure time belongs to the
// stop the vehicle left, per operational convention. Departures with
// no qualifying earlier arrival get an empty stop id (dropped later
// by FilterNoise).
//
// Arrivals within a trip instance must not repeat a stop sequence;
// violating input yields an error rather than a silently wrong join.
func CorrectDepartureStops(events []model.Event) ([]model.Event, error) {
	arrivals := map[tripKey][]model.Event{}
	for _, e := range events {
		if e.EventType == model.Arrival {
			arrivals[keyOf(e)] = append(arrivals[keyOf(e)], e)
		}
	}

	for key, arr := range arrivals {
		sort.SliceStable(arr, func(i, j int) bool {
			return arr[i].StopSequence < arr[j].StopSequence
		})
		for i := 1; i < len(arr); i++ {
			if arr[i].StopSequence == arr[i-1].StopSequence {
				return nil, fmt.Errorf(
					"trip %s on %s: duplicate arrival stop_sequence %d",
					key.TripID, key.ServiceDate, arr[i].StopSequence,
				)
			}
		}
		arrivals[key] = arr
	}

	out := make([]model.Event, len(events))
	for i, e := range events {
		if e.EventType != model.Departure {
			out[i] = e
			continue
		}

		arr := arrivals[keyOf(e)]
		// Greatest arrival sequence strictly below the
		// departure's own; never the departure itself.
		idx := sort.Search(len(arr), func(j int) bool {
			return arr[j].StopSequence >= e.StopSequence
		})
		if idx == 0 {
			e.StopID = ""
		} else {
			e.StopID = arr[idx-1].StopID
		}
		out[i] = e
	}
	return out, nil
}

// FilterNoise drops events whose stop id became undefined during
// departure correction, and non-revenue movements for service dates
// before the labeling cutover.
func FilterNoise(events []model.Event) []model.Event {
	out := []model.Event{}
	for _, e := range events {
		if e.StopID == "" {
			continue
		}
		if e.ServiceDate.Before(nonRevenueCutoff) && hasNonRevenuePrefix(e.TripID) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func hasNonRevenuePrefix(tripID string) bool {
	for _, prefix := range nonRevenuePrefixes {
		if len(tripID) >= len(prefix) && tripID[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// CanonicalizeStops substitutes known alias stop ids with their
// canonical equivalents, so schedule matching can find them.
func CanonicalizeStops(events []model.Event) []model.Event {
	out := make([]model.Event, len(events))
	for i, e := range events {
		if canonical, found := canonicalStopIDs[e.StopID]; found {
			e.StopID = canonical
		}
		out[i] = e
	}
	return out
}

// SortByEventTime orders the final table chronologically; ties
// resolve by trip and sequence so output is deterministic.
func SortByEventTime(events []model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].EventTime.Equal(events[j].EventTime) {
			return events[i].EventTime.Before(events[j].EventTime)
		}
		if events[i].TripID != events[j].TripID {
			return events[i].TripID < events[j].TripID
		}
		if events[i].StopSequence != events[j].StopSequence {
			return events[i].StopSequence < events[j].StopSequence
		}
		return events[i].EventType < events[j].EventType
	})
}
