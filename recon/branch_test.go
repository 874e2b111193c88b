package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitperf.dev/events/model"
)

func redTrip(tripID string, stops ...string) []model.Event {
	events := make([]model.Event, len(stops))
	for i, stopID := range stops {
		events[i] = model.Event{
			ServiceDate:  model.NewDate(2024, time.February, 7),
			RouteID:      "Red",
			TripID:       tripID,
			VehicleID:    "R-1",
			StopID:       stopID,
			StopSequence: i + 1,
			EventType:    model.Arrival,
		}
	}
	return events
}

func TestDisambiguateBranches(t *testing.T) {
	t.Run("ashmont", func(t *testing.T) {
		out, err := DisambiguateBranches(redTrip("t1", "70061", "70063", "70092"))
		require.NoError(t, err)
		for _, e := range out {
			assert.Equal(t, "Red-A", e.BranchRouteID)
		}
	})

	t.Run("braintree", func(t *testing.T) {
		out, err := DisambiguateBranches(redTrip("t1", "70061", "70063", "70099"))
		require.NoError(t, err)
		for _, e := range out {
			assert.Equal(t, "Red-B", e.BranchRouteID)
		}
	})

	t.Run("trunk only", func(t *testing.T) {
		// Without a branch-exclusive stop the route id stays
		// unqualified.
		out, err := DisambiguateBranches(redTrip("t1", "70061", "70063", "70065"))
		require.NoError(t, err)
		for _, e := range out {
			assert.Equal(t, "Red", e.BranchRouteID)
		}
	})

	t.Run("both branches is an error", func(t *testing.T) {
		_, err := DisambiguateBranches(redTrip("t1", "70092", "70099"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "both")
	})

	t.Run("unbranched route passes through", func(t *testing.T) {
		events := redTrip("t1", "70001")
		events[0].RouteID = "Orange"
		out, err := DisambiguateBranches(events)
		require.NoError(t, err)
		assert.Equal(t, "Orange", out[0].BranchRouteID)
	})
}

func TestScheduledBranchFor(t *testing.T) {
	branch, err := scheduledBranchFor("Red", []model.ScheduledStopTime{
		{TripID: "s1", StopID: "70061", RouteID: "Red"},
		{TripID: "s1", StopID: "70105", RouteID: "Red"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Red-B", branch)
}
