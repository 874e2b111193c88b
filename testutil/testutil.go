package testutil

// Helpers for tests that need schedule feed fixtures.

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// BuildFeedZip assembles a zipped schedule feed from file name to
// CSV lines. Required files missing from the map get minimal valid
// defaults, so tests only spell out what they care about.
func BuildFeedZip(t testing.TB, files map[string][]string) []byte {
	t.Helper()

	if files["trips.txt"] == nil {
		files["trips.txt"] = []string{"trip_id,route_id,service_id,direction_id"}
	}
	if files["stop_times.txt"] == nil {
		files["stop_times.txt"] = []string{"trip_id,stop_id,stop_sequence,arrival_time"}
	}
	if files["calendar.txt"] == nil && files["calendar_dates.txt"] == nil {
		files["calendar.txt"] = []string{
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
		}
	}

	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for filename, lines := range files {
		f, err := w.Create(filename)
		require.NoError(t, err)
		_, err = f.Write([]byte(strings.Join(lines, "\n") + "\n"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	return buf.Bytes()
}

// WeekdayFeedZip is a single-route fixture: one service running
// every day of 2024, two trips over three stops.
func WeekdayFeedZip(t testing.TB) []byte {
	t.Helper()
	return BuildFeedZip(t, map[string][]string{
		"trips.txt": {
			"trip_id,route_id,service_id,direction_id",
			"t1,Orange,all,0",
			"t2,Orange,all,0",
		},
		"stop_times.txt": {
			"trip_id,stop_id,stop_sequence,arrival_time",
			"t1,70001,1,08:00:00",
			"t1,70003,2,08:05:00",
			"t1,70005,3,08:11:00",
			"t2,70001,1,08:09:00",
			"t2,70003,2,08:14:00",
			"t2,70005,3,08:20:00",
		},
		"calendar.txt": {
			"service_id,start_date,end_date,monday,tuesday,wednesday,thursday,friday,saturday,sunday",
			"all,20240101,20241231,1,1,1,1,1,1,1",
		},
	})
}
