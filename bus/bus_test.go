package bus

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitperf.dev/events/model"
	"transitperf.dev/events/servicedate"
)

const exportHeader = "service_date,route_id,direction_id,half_trip_id,stop_id," +
	"time_point_id,time_point_order,point_type,standard_type,scheduled,actual," +
	"scheduled_headway,headway\n"

func TestLoad(t *testing.T) {
	data := exportHeader +
		"2022-03-01,057,Inbound,54321,903,maput,1,Startpoint,Schedule," +
		"1900-01-01 05:05:00,1900-01-01 05:06:12,600,660\n"

	rows, err := Load(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "057", rows[0].RouteID)
	assert.Equal(t, "54321", rows[0].HalfTripID)
	assert.Equal(t, 1, rows[0].TimePointOrder)
	require.NotNil(t, rows[0].Headway)
	assert.EqualValues(t, 660, *rows[0].Headway)
}

func TestLoadBOM(t *testing.T) {
	data := "\uFEFF" + exportHeader +
		"2022-03-01,01,Inbound,1,2,tp,1,Endpoint,Schedule,,1900-01-01 05:00:00,,\n"
	rows, err := Load(strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2022-03-01", rows[0].ServiceDate)
}

func TestNormalizeRoute(t *testing.T) {
	assert.Equal(t, "57", normalizeRoute("057"))
	assert.Equal(t, "1", normalizeRoute("01"))
	assert.Equal(t, "747", normalizeRoute("747"))
	// All zeros is a pathological id; leave it alone.
	assert.Equal(t, "00", normalizeRoute("00"))
}

func TestParseActual(t *testing.T) {
	date := model.NewDate(2022, time.March, 1)

	t.Run("base date same day", func(t *testing.T) {
		at, err := parseActual("1900-01-01 23:45:50", date)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2022, 3, 1, 23, 45, 50, 0, servicedate.Eastern), at)
	})

	t.Run("base date overnight", func(t *testing.T) {
		// Day 2 on the 1900 base means past midnight of the
		// next calendar day.
		at, err := parseActual("1900-01-02 00:15:00", date)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2022, 3, 2, 0, 15, 0, 0, servicedate.Eastern), at)
	})

	t.Run("mislabeled zulu is eastern wall clock", func(t *testing.T) {
		at, err := parseActual("2024-05-01T05:20:00Z", model.NewDate(2024, time.May, 1))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 5, 1, 5, 20, 0, 0, servicedate.Eastern), at)
	})

	t.Run("utc after cutover converts", func(t *testing.T) {
		at, err := parseActual("2024-07-01T09:20:00Z", model.NewDate(2024, time.July, 1))
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 7, 1, 5, 20, 0, 0, servicedate.Eastern).Unix(), at.Unix())
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := parseActual("yesterday-ish", date)
		require.Error(t, err)
	})
}

func busRow(pointType string) Row {
	return Row{
		ServiceDate:    "2022-03-01",
		RouteID:        "057",
		Direction:      "Inbound",
		HalfTripID:     "54321",
		StopID:         "903",
		TimePointOrder: 2,
		PointType:      pointType,
		Actual:         "1900-01-01 05:06:12",
	}
}

func TestEvents(t *testing.T) {
	t.Run("startpoint departs only", func(t *testing.T) {
		events, err := Events([]Row{busRow("Startpoint")}, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.Departure, events[0].EventType)
		assert.Equal(t, "57", events[0].RouteID)
		assert.EqualValues(t, 1, events[0].DirectionID)
	})

	t.Run("midpoint arrives and departs", func(t *testing.T) {
		events, err := Events([]Row{busRow("Midpoint")}, nil)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.Arrival, events[0].EventType)
		assert.Equal(t, model.Departure, events[1].EventType)
		assert.Equal(t, events[0].EventTime, events[1].EventTime)
	})

	t.Run("endpoint arrives only", func(t *testing.T) {
		events, err := Events([]Row{busRow("Endpoint")}, nil)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.Arrival, events[0].EventType)
	})

	t.Run("schedule-only rows dropped", func(t *testing.T) {
		row := busRow("Midpoint")
		row.Actual = ""
		events, err := Events([]Row{row}, nil)
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("route filter after zero stripping", func(t *testing.T) {
		events, err := Events([]Row{busRow("Endpoint")}, []string{"57"})
		require.NoError(t, err)
		assert.Len(t, events, 1)

		events, err = Events([]Row{busRow("Endpoint")}, []string{"66"})
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("unknown direction", func(t *testing.T) {
		row := busRow("Endpoint")
		row.Direction = "Sideways"
		_, err := Events([]Row{row}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Sideways")
	})

	t.Run("unknown point type", func(t *testing.T) {
		_, err := Events([]Row{busRow("Waypoint")}, nil)
		require.Error(t, err)
	})
}
