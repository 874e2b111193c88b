package schedule

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitperf.dev/events/blob"
	"transitperf.dev/events/config"
	"transitperf.dev/events/model"
	"transitperf.dev/events/testutil"
)

func feedRange(start, end, url string) config.FeedRange {
	return config.FeedRange{StartDate: start, EndDate: end, URL: url}
}

func TestFeedForDate(t *testing.T) {
	store := NewStore([]config.FeedRange{
		feedRange("2024-01-01", "2024-12-31", "http://feeds/year"),
		feedRange("2024-02-01", "2024-02-29", "http://feeds/february"),
	}, t.TempDir(), nil, nil)

	t.Run("single cover", func(t *testing.T) {
		feed, err := store.FeedForDate(model.NewDate(2024, time.June, 1))
		require.NoError(t, err)
		assert.Equal(t, "http://feeds/year", feed.URL)
	})

	t.Run("narrowest covering feed wins", func(t *testing.T) {
		feed, err := store.FeedForDate(model.NewDate(2024, time.February, 10))
		require.NoError(t, err)
		assert.Equal(t, "http://feeds/february", feed.URL)
	})

	t.Run("no coverage", func(t *testing.T) {
		_, err := store.FeedForDate(model.NewDate(2023, time.June, 1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoFeedForDate))
	})
}

// fakeDB records the batch sizes of every query.
type fakeDB struct {
	stopTimeBatches []int
	serviceBatches  []int
	services        []string
	tripIDs         []string
}

func (f *fakeDB) WriteFeed(feed *Feed) error { return nil }

func (f *fakeDB) StopTimesForTrips(tripIDs []string) ([]model.ScheduledStopTime, error) {
	if len(tripIDs) > MaxQueryParams {
		return nil, fmt.Errorf("batch of %d exceeds limit", len(tripIDs))
	}
	f.stopTimeBatches = append(f.stopTimeBatches, len(tripIDs))
	result := make([]model.ScheduledStopTime, len(tripIDs))
	for i, id := range tripIDs {
		result[i] = model.ScheduledStopTime{TripID: id, StopID: "70001"}
	}
	return result, nil
}

func (f *fakeDB) ActiveServices(date model.Date) ([]string, error) {
	return f.services, nil
}

func (f *fakeDB) TripIDsForServices(serviceIDs []string) ([]string, error) {
	if len(serviceIDs) > MaxQueryParams {
		return nil, fmt.Errorf("batch of %d exceeds limit", len(serviceIDs))
	}
	f.serviceBatches = append(f.serviceBatches, len(serviceIDs))
	return f.tripIDs, nil
}

func (f *fakeDB) Close() error { return nil }

func fakeStore(db DB) *Store {
	store := NewStore([]config.FeedRange{
		feedRange("2024-01-01", "2024-12-31", "http://feeds/year"),
	}, "", nil, nil)
	store.Open = func(key, localPath string) (DB, bool, error) {
		return db, true, nil
	}
	store.Download = func(ctx context.Context, url string) ([]byte, error) {
		return nil, fmt.Errorf("unexpected download of %s", url)
	}
	return store
}

func TestStopTimesForTripsBatching(t *testing.T) {
	date := model.NewDate(2024, time.June, 1)

	for _, tc := range []struct {
		count   int
		batches []int
	}{
		{1, []int{1}},
		{MaxQueryParams - 1, []int{899}},
		{MaxQueryParams, []int{900}},
		{MaxQueryParams + 1, []int{900, 1}},
		{2*MaxQueryParams + 50, []int{900, 900, 50}},
	} {
		t.Run(fmt.Sprintf("%d ids", tc.count), func(t *testing.T) {
			db := &fakeDB{}
			store := fakeStore(db)

			tripIDs := make([]string, tc.count)
			for i := range tripIDs {
				tripIDs[i] = fmt.Sprintf("trip-%d", i)
			}

			result, err := store.StopTimesForTrips(context.Background(), tripIDs, date)
			require.NoError(t, err)
			assert.Equal(t, tc.batches, db.stopTimeBatches)

			// Concatenation preserves input order across batches.
			require.Len(t, result, tc.count)
			assert.Equal(t, "trip-0", result[0].TripID)
			assert.Equal(t, tripIDs[tc.count-1], result[tc.count-1].TripID)
		})
	}
}

func TestScheduledForDateBatchesServices(t *testing.T) {
	db := &fakeDB{tripIDs: []string{"t1"}}
	db.services = make([]string, MaxQueryParams+10)
	for i := range db.services {
		db.services[i] = fmt.Sprintf("svc-%d", i)
	}

	store := fakeStore(db)
	result, err := store.ScheduledForDate(context.Background(), model.NewDate(2024, time.June, 1))
	require.NoError(t, err)
	assert.Equal(t, []int{900, 10}, db.serviceBatches)
	// Each service batch returned t1, and the trip query ran once
	// per accumulated id.
	assert.Equal(t, []int{2}, db.stopTimeBatches)
	assert.Len(t, result, 2)
}

func TestStoreBuildsAndMirrors(t *testing.T) {
	mirror := blob.NewMemory()
	zipBytes := testutil.WeekdayFeedZip(t)

	downloads := 0
	store := NewStore([]config.FeedRange{
		feedRange("2024-01-01", "2024-12-31", "http://feeds/year"),
	}, t.TempDir(), mirror, nil)
	store.Download = func(ctx context.Context, url string) ([]byte, error) {
		downloads++
		return zipBytes, nil
	}

	ctx := context.Background()
	date := model.NewDate(2024, time.June, 5)

	scheduled, err := store.ScheduledForDate(ctx, date)
	require.NoError(t, err)
	assert.Len(t, scheduled, 6)
	assert.Equal(t, 1, downloads)

	// The built database was mirrored.
	keys, err := mirror.List(ctx, "feeds/")
	require.NoError(t, err)
	require.Equal(t, []string{"feeds/20240101-20241231.db"}, keys)

	// Repeated queries reuse the open database.
	_, err = store.ScheduledForDate(ctx, date.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, 1, downloads)
	require.NoError(t, store.Close())

	// A fresh store with a cold cache restores from the mirror
	// instead of rebuilding.
	restored := NewStore(store.Feeds, t.TempDir(), mirror, nil)
	restored.Download = func(ctx context.Context, url string) ([]byte, error) {
		return nil, fmt.Errorf("should have used the mirror")
	}
	scheduled, err = restored.ScheduledForDate(ctx, date)
	require.NoError(t, err)
	assert.Len(t, scheduled, 6)
	require.NoError(t, restored.Close())
}

func TestStopTimesForTripsSelectsTrips(t *testing.T) {
	store := NewStore([]config.FeedRange{
		feedRange("2024-01-01", "2024-12-31", "http://feeds/year"),
	}, t.TempDir(), nil, nil)
	store.Download = func(ctx context.Context, url string) ([]byte, error) {
		return testutil.WeekdayFeedZip(t), nil
	}

	scheduled, err := store.StopTimesForTrips(context.Background(),
		[]string{"t2"}, model.NewDate(2024, time.June, 5))
	require.NoError(t, err)
	require.Len(t, scheduled, 3)
	for _, st := range scheduled {
		assert.Equal(t, "t2", st.TripID)
		assert.Equal(t, "Orange", st.RouteID)
	}
	// Rows come back in stop sequence order.
	assert.Equal(t, 8*3600+9*60, scheduled[0].ArrivalSeconds)
	assert.Equal(t, 8*3600+20*60, scheduled[2].ArrivalSeconds)
	require.NoError(t, store.Close())
}
