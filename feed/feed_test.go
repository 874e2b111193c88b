package feed

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitperf.dev/events/model"
)

func i64(n int64) *int64 { return &n }

func snapshotBytes(t *testing.T, rows []liveRow) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := parquet.NewGenericWriter[liveRow](buf)
	_, err := w.Write(rows)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLiveFetchDay(t *testing.T) {
	rows := []liveRow{
		{
			ServiceDate:         20240207,
			RouteID:             "Orange",
			TripID:              "t-1",
			StopID:              "70001",
			DirectionID:         1,
			StopSequence:        30,
			VehicleID:           "O-1",
			VehicleLabel:        "1400",
			MoveTimestamp:       i64(1707310800),
			StopTimestamp:       i64(1707310740),
			HeadwayTrunkSeconds: i64(420),
		},
	}

	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write(snapshotBytes(t, rows))
	}))
	defer server.Close()

	live := &Live{URLTemplate: server.URL + "/{date}.parquet"}
	records, err := live.FetchDay(context.Background(), model.NewDate(2024, time.February, 7))
	require.NoError(t, err)
	assert.Equal(t, "/2024-02-07.parquet", requested)

	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, model.NewDate(2024, time.February, 7), r.ServiceDate)
	assert.Equal(t, "Orange", r.RouteID)
	assert.EqualValues(t, 1, r.DirectionID)
	assert.Equal(t, 30, r.StopSequence)
	require.NotNil(t, r.StopTimestamp)
	assert.EqualValues(t, 1707310740, *r.StopTimestamp)
	// The trunk headway column becomes the plain headway field.
	require.NotNil(t, r.Benchmarks.HeadwaySeconds)
	assert.EqualValues(t, 420, *r.Benchmarks.HeadwaySeconds)
	assert.Nil(t, r.Benchmarks.DwellTimeSeconds)
}

func TestLiveFetchDayIncompleteSchema(t *testing.T) {
	// A snapshot missing columns must fail loudly: the decoder
	// would otherwise zero-fill them and the day would come out
	// empty but "successful".
	type narrowRow struct {
		ServiceDate int64  `parquet:"service_date"`
		RouteID     string `parquet:"route_id"`
		TripID      string `parquet:"trip_id"`
	}
	buf := &bytes.Buffer{}
	w := parquet.NewGenericWriter[narrowRow](buf)
	_, err := w.Write([]narrowRow{{ServiceDate: 20240207, RouteID: "Orange", TripID: "t-1"}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer server.Close()

	live := &Live{URLTemplate: server.URL + "/{date}.parquet"}
	_, err = live.FetchDay(context.Background(), model.NewDate(2024, time.February, 7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing columns")
	assert.Contains(t, err.Error(), "stop_id")
	assert.Contains(t, err.Error(), "move_timestamp")
}

func TestLiveFetchDayMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	live := &Live{URLTemplate: server.URL + "/{date}.parquet"}
	_, err := live.FetchDay(context.Background(), model.NewDate(2024, time.February, 7))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestLiveAvailableDates(t *testing.T) {
	index := "file_name,size\n" +
		"otp/2024-02-06-on-time-performance-v1.parquet,123\n" +
		"otp/2024-02-07-on-time-performance-v1.parquet,456\n" +
		"garbage\n"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(index))
	}))
	defer server.Close()

	live := &Live{IndexURL: server.URL + "/index.csv"}
	dates, err := live.AvailableDates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Date{
		model.NewDate(2024, time.February, 6),
		model.NewDate(2024, time.February, 7),
	}, dates)
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := zip.NewWriter(buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestHistoricDownloadRapidYear(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"2019/q1.csv":      "a,b\n1,2\n",
		"2019/sub/q2.csv":  "a,b\n3,4\n",
		"2019/readme.txt":  "ignored",
	})

	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/items/abc123/data", r.URL.Path)
		w.Write(archive)
	}))
	defer server.Close()

	h := &Historic{
		URLTemplate: server.URL + "/items/{id}/data",
		RapidIDs:    map[string]string{"2019": "abc123"},
		CacheRoot:   t.TempDir(),
	}

	files, err := h.DownloadRapidYear(context.Background(), "2019")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Contains(t, files[0], "q1.csv")
	assert.Contains(t, files[1], "q2.csv")

	// Second call reuses the extracted files.
	again, err := h.DownloadRapidYear(context.Background(), "2019")
	require.NoError(t, err)
	assert.Equal(t, files, again)
	assert.Equal(t, 1, hits)
}

func TestHistoricUnsupportedYear(t *testing.T) {
	h := &Historic{
		URLTemplate: "http://127.0.0.1:0/{id}",
		RapidIDs:    map[string]string{"2019": "abc", "2020": "def"},
		CacheRoot:   t.TempDir(),
	}
	_, err := h.DownloadRapidYear(context.Background(), "2007")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2007")
	assert.Contains(t, err.Error(), "2019 2020")
}

func TestUnzipRejectsEscape(t *testing.T) {
	archive := zipBytes(t, map[string]string{"../evil.csv": "x"})
	err := unzip(archive, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}
