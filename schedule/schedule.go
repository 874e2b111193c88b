// Package schedule resolves, materializes and queries static
// schedule feeds. A feed is fetched once, built into a minimal
// relational store, and mirrored to the blob store so other
// processes skip the (expensive) build.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"transitperf.dev/events/blob"
	"transitperf.dev/events/config"
	"transitperf.dev/events/model"
)

var ErrNoFeedForDate = errors.New("no schedule feed covers date")

const feedDownloadTimeout = 5 * time.Minute

// Opener produces a DB for a feed key, reporting whether the feed is
// already materialized. The default opener uses SQLite files under
// the cache root.
type Opener func(key string, localPath string) (DB, bool, error)

type Store struct {
	Feeds     []config.FeedRange
	CacheRoot string

	// Mirror for built feed databases. Optional.
	Blob blob.Store

	// Fetches the feed archive. Defaults to a plain HTTP GET.
	Download func(ctx context.Context, url string) ([]byte, error)

	Open   Opener
	Logger *slog.Logger

	dbs map[string]DB
}

func NewStore(feeds []config.FeedRange, cacheRoot string, mirror blob.Store, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		Feeds:     feeds,
		CacheRoot: cacheRoot,
		Blob:      mirror,
		Download: func(ctx context.Context, url string) ([]byte, error) {
			return httpGet(ctx, url, feedDownloadTimeout)
		},
		Open:   openSQLite,
		Logger: logger,
		dbs:    map[string]DB{},
	}
}

func openSQLite(key string, localPath string) (DB, bool, error) {
	_, err := os.Stat(localPath)
	exists := err == nil

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return nil, false, fmt.Errorf("creating cache dir: %w", err)
	}

	db, err := NewSQLiteDB(localPath)
	if err != nil {
		return nil, false, err
	}
	return db, exists, nil
}

// FeedForDate returns the feed covering the service date. When
// ranges overlap, the narrowest covering feed wins.
func (s *Store) FeedForDate(date model.Date) (config.FeedRange, error) {
	covering := []config.FeedRange{}
	spans := map[string]int{}
	for _, f := range s.Feeds {
		start, err := f.Start()
		if err != nil {
			return config.FeedRange{}, err
		}
		end, err := f.End()
		if err != nil {
			return config.FeedRange{}, err
		}
		if !date.Before(start) && !date.After(end) {
			covering = append(covering, f)
			spans[f.URL] = end.DateInt() - start.DateInt()
		}
	}

	if len(covering) == 0 {
		return config.FeedRange{}, fmt.Errorf("%w: %s (%d feeds configured)", ErrNoFeedForDate, date, len(s.Feeds))
	}

	sort.SliceStable(covering, func(i, j int) bool {
		return spans[covering[i].URL] < spans[covering[j].URL]
	})
	return covering[0], nil
}

// StopTimesForTrips returns scheduled stop-time rows for the given
// trip ids on the date's effective feed, batched to respect the
// query-parameter ceiling.
func (s *Store) StopTimesForTrips(ctx context.Context, tripIDs []string, date model.Date) ([]model.ScheduledStopTime, error) {
	db, err := s.dbForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	result := []model.ScheduledStopTime{}
	for start := 0; start < len(tripIDs); start += MaxQueryParams {
		end := start + MaxQueryParams
		if end > len(tripIDs) {
			end = len(tripIDs)
		}
		batch, err := db.StopTimesForTrips(tripIDs[start:end])
		if err != nil {
			return nil, fmt.Errorf("querying batch at %d: %w", start, err)
		}
		result = append(result, batch...)
	}
	return result, nil
}

// ScheduledForDate returns all scheduled stop times for services
// active on the date. This feeds the historical enrichment path and
// the fallback/headway indexes.
func (s *Store) ScheduledForDate(ctx context.Context, date model.Date) ([]model.ScheduledStopTime, error) {
	db, err := s.dbForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	services, err := db.ActiveServices(date)
	if err != nil {
		return nil, fmt.Errorf("resolving services for %s: %w", date, err)
	}

	tripIDs := []string{}
	for start := 0; start < len(services); start += MaxQueryParams {
		end := start + MaxQueryParams
		if end > len(services) {
			end = len(services)
		}
		ids, err := db.TripIDsForServices(services[start:end])
		if err != nil {
			return nil, fmt.Errorf("resolving trips for %s: %w", date, err)
		}
		tripIDs = append(tripIDs, ids...)
	}

	return s.StopTimesForTrips(ctx, tripIDs, date)
}

func (s *Store) dbForDate(ctx context.Context, date model.Date) (DB, error) {
	feed, err := s.FeedForDate(date)
	if err != nil {
		return nil, err
	}

	key := feedKey(feed)
	if db, found := s.dbs[key]; found {
		return db, nil
	}

	localPath := filepath.Join(s.CacheRoot, "schedule", key+".db")

	// A copy may already be mirrored in the blob store; fetching
	// it beats rebuilding.
	if _, err := os.Stat(localPath); os.IsNotExist(err) && s.Blob != nil {
		if data, err := s.Blob.Get(ctx, mirrorKey(key)); err == nil {
			if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
				return nil, fmt.Errorf("creating cache dir: %w", err)
			}
			if err := os.WriteFile(localPath, data, 0644); err != nil {
				return nil, fmt.Errorf("writing mirrored feed: %w", err)
			}
			s.Logger.Info("fetched mirrored schedule feed", "feed", key)
		} else if !errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("checking mirror for %s: %w", key, err)
		}
	}

	db, ready, err := s.Open(key, localPath)
	if err != nil {
		return nil, fmt.Errorf("opening schedule db %s: %w", key, err)
	}

	if !ready {
		if err := s.build(ctx, feed, key, db); err != nil {
			db.Close()
			return nil, err
		}
		s.mirror(ctx, key, localPath)
	}

	s.dbs[key] = db
	return db, nil
}

// build downloads and materializes a feed. Concurrent double-builds
// are tolerated: builds are deterministic and overwriting is safe.
func (s *Store) build(ctx context.Context, feedRange config.FeedRange, key string, db DB) error {
	s.Logger.Info("building schedule feed", "feed", key, "url", feedRange.URL)

	body, err := s.Download(ctx, feedRange.URL)
	if err != nil {
		return fmt.Errorf("downloading feed %s: %w", key, err)
	}

	feed, err := ParseFeed(body)
	if err != nil {
		return fmt.Errorf("parsing feed %s: %w", key, err)
	}

	if err := db.WriteFeed(feed); err != nil {
		return fmt.Errorf("materializing feed %s: %w", key, err)
	}
	return nil
}

// mirror uploads the built database for other processes. Best
// effort: a failed upload costs the fleet a rebuild, not the run.
func (s *Store) mirror(ctx context.Context, key string, localPath string) {
	if s.Blob == nil {
		return
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		s.Logger.Warn("reading built feed for mirror", "feed", key, "error", err)
		return
	}
	if err := s.Blob.Put(ctx, mirrorKey(key), data, blob.PutOptions{}); err != nil {
		s.Logger.Warn("mirroring schedule feed", "feed", key, "error", err)
		return
	}
	s.Logger.Info("mirrored schedule feed", "feed", key)
}

// Close closes all open feed databases.
func (s *Store) Close() error {
	errs := []error{}
	for key, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", key, err))
		}
		delete(s.dbs, key)
	}
	return errors.Join(errs...)
}

func feedKey(f config.FeedRange) string {
	start, _ := f.Start()
	end, _ := f.End()
	return fmt.Sprintf("%d-%d", start.DateInt(), end.DateInt())
}

func mirrorKey(key string) string {
	return "feeds/" + key + ".db"
}
