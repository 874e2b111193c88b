package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitperf.dev/events/model"
	"transitperf.dev/events/servicedate"
)

func i64(n int64) *int64 { return &n }

func rawRecord(tripID, stopID string, seq int, move, stop *int64) model.RawPositionRecord {
	return model.RawPositionRecord{
		ServiceDate:   model.NewDate(2024, time.February, 7),
		RouteID:       "Orange",
		TripID:        tripID,
		DirectionID:   0,
		StopID:        stopID,
		StopSequence:  seq,
		VehicleID:     "O-1234",
		VehicleLabel:  "1234",
		MoveTimestamp: move,
		StopTimestamp: stop,
	}
}

func TestExplode(t *testing.T) {
	records := []model.RawPositionRecord{
		rawRecord("trip-1", "70001", 1, i64(1707310800), i64(1707310740)),
		rawRecord("trip-1", "70003", 2, nil, i64(1707310980)),
		rawRecord("trip-1", "70005", 3, i64(1707311400), nil),
	}

	events := Explode(records, servicedate.Eastern)
	require.Len(t, events, 4)

	assert.Equal(t, model.Departure, events[0].EventType)
	assert.Equal(t, model.Arrival, events[1].EventType)
	assert.Equal(t,
		time.Date(2024, 2, 7, 8, 0, 0, 0, servicedate.Eastern),
		events[0].EventTime)

	// Record with only a stop timestamp yields just the arrival.
	assert.Equal(t, model.Arrival, events[2].EventType)
	assert.Equal(t, "70003", events[2].StopID)

	// Record with only a move timestamp yields just the departure.
	assert.Equal(t, model.Departure, events[3].EventType)
}

func TestCorrectDepartureStops(t *testing.T) {
	records := []model.RawPositionRecord{
		rawRecord("trip-1", "70001", 1, nil, i64(1707310740)),
		rawRecord("trip-1", "70003", 2, i64(1707310800), i64(1707310980)),
		rawRecord("trip-1", "70005", 3, i64(1707311100), i64(1707311400)),
	}

	events := Explode(records, servicedate.Eastern)
	corrected, err := CorrectDepartureStops(events)
	require.NoError(t, err)
	require.Len(t, corrected, 5)

	byTime := map[int64]model.Event{}
	for _, e := range corrected {
		if e.EventType == model.Departure {
			byTime[e.EventTime.Unix()] = e
		}
	}

	// The departure recorded at seq 2 happened at the seq 1 stop,
	// and the one at seq 3 at the seq 2 stop.
	assert.Equal(t, "70001", byTime[1707310800].StopID)
	assert.Equal(t, "70003", byTime[1707311100].StopID)
}

func TestCorrectDepartureStopsNoEarlierArrival(t *testing.T) {
	// A lone departure at the first recorded sequence has no
	// arrival to borrow a stop from.
	records := []model.RawPositionRecord{
		rawRecord("trip-1", "70001", 1, i64(1707310800), nil),
		rawRecord("trip-1", "70003", 2, nil, i64(1707310980)),
	}

	events := Explode(records, servicedate.Eastern)
	corrected, err := CorrectDepartureStops(events)
	require.NoError(t, err)

	var dep model.Event
	for _, e := range corrected {
		if e.EventType == model.Departure {
			dep = e
		}
	}
	assert.Empty(t, dep.StopID)

	filtered := FilterNoise(corrected)
	require.Len(t, filtered, 1)
	assert.Equal(t, model.Arrival, filtered[0].EventType)
}

func TestCorrectDepartureStopsDistinctVehicles(t *testing.T) {
	// Same trip id run by two vehicles: arrivals must not leak
	// across vehicle boundaries.
	a := rawRecord("trip-1", "70001", 1, nil, i64(1707310740))
	b := rawRecord("trip-1", "70009", 5, nil, i64(1707310750))
	b.VehicleID = "O-9999"
	dep := rawRecord("trip-1", "70011", 6, i64(1707310900), nil)

	events := Explode([]model.RawPositionRecord{a, b, dep}, servicedate.Eastern)
	corrected, err := CorrectDepartureStops(events)
	require.NoError(t, err)

	for _, e := range corrected {
		if e.EventType == model.Departure {
			// Only the same-vehicle arrival at seq 1 qualifies.
			assert.Equal(t, "70001", e.StopID)
		}
	}
}

func TestCorrectDepartureStopsDuplicateSequence(t *testing.T) {
	records := []model.RawPositionRecord{
		rawRecord("trip-1", "70001", 2, nil, i64(1707310740)),
		rawRecord("trip-1", "70003", 2, nil, i64(1707310980)),
	}
	events := Explode(records, servicedate.Eastern)

	_, err := CorrectDepartureStops(events)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate arrival stop_sequence")
}

func TestFilterNoiseNonRevenueCutoff(t *testing.T) {
	for _, tc := range []struct {
		name string
		date model.Date
		trip string
		kept bool
	}{
		{"nonrev before cutoff", model.NewDate(2023, 11, 29), "NONREV-5551", false},
		{"added before cutoff", model.NewDate(2023, 6, 1), "ADDED-5551", false},
		{"nonrev on cutoff", model.NewDate(2023, 11, 30), "NONREV-5551", true},
		{"nonrev after cutoff", model.NewDate(2024, 2, 7), "NONREV-5551", true},
		{"plain before cutoff", model.NewDate(2023, 11, 29), "5551", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := model.Event{
				ServiceDate: tc.date,
				TripID:      tc.trip,
				StopID:      "70001",
				EventType:   model.Arrival,
			}
			kept := FilterNoise([]model.Event{e})
			if tc.kept {
				assert.Len(t, kept, 1)
			} else {
				assert.Empty(t, kept)
			}
		})
	}
}

func TestCanonicalizeStops(t *testing.T) {
	events := []model.Event{
		{StopID: "Union Square-01"},
		{StopID: "Medford/Tufts-02"},
		{StopID: "70503"},
		{StopID: "place-unsqu"},
	}
	out := CanonicalizeStops(events)
	assert.Equal(t, "70503", out[0].StopID)
	assert.Equal(t, "70512", out[1].StopID)
	assert.Equal(t, "70503", out[2].StopID)
	assert.Equal(t, "place-unsqu", out[3].StopID)
}

func TestSortByEventTime(t *testing.T) {
	loc := servicedate.Eastern
	at := func(h, m int) time.Time {
		return time.Date(2024, 2, 7, h, m, 0, 0, loc)
	}
	events := []model.Event{
		{TripID: "b", EventTime: at(9, 0)},
		{TripID: "a", EventTime: at(8, 0)},
		{TripID: "a", EventTime: at(9, 0)},
	}
	SortByEventTime(events)
	assert.Equal(t, "a", events[0].TripID)
	assert.Equal(t, at(8, 0), events[0].EventTime)
	assert.Equal(t, "a", events[1].TripID)
	assert.Equal(t, "b", events[2].TripID)
}
