package schedule

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"transitperf.dev/events/model"
)

// PostgresDB stores materialized schedule feeds in a shared Postgres
// instance, so a whole fleet pays the build cost once. All feeds
// live in the same tables, scoped by feed key.
type PostgresDB struct {
	db      *sql.DB
	feedKey string
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS feeds (
    feed_key TEXT PRIMARY KEY,
    built_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trips (
    feed_key TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    direction_id SMALLINT NOT NULL,
PRIMARY KEY (feed_key, trip_id)
);

CREATE TABLE IF NOT EXISTS stop_times (
    feed_key TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_seconds INTEGER NOT NULL,
PRIMARY KEY (feed_key, trip_id, stop_sequence)
);

CREATE TABLE IF NOT EXISTS calendar (
    feed_key TEXT NOT NULL,
    service_id TEXT NOT NULL,
    start_date INTEGER NOT NULL,
    end_date INTEGER NOT NULL,
    weekday SMALLINT NOT NULL,
PRIMARY KEY (feed_key, service_id)
);

CREATE TABLE IF NOT EXISTS calendar_dates (
    feed_key TEXT NOT NULL,
    service_id TEXT NOT NULL,
    date INTEGER NOT NULL,
    exception_type SMALLINT NOT NULL,
PRIMARY KEY (feed_key, service_id, date)
);`

func NewPostgresDB(connStr string, feedKey string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresDB{db: db, feedKey: feedKey}, nil
}

// OpenPostgres returns an Opener backed by a shared Postgres
// instance. The local path is ignored; readiness comes from the
// feeds table, so a feed built by one process is ready everywhere.
func OpenPostgres(connStr string) Opener {
	return func(key string, localPath string) (DB, bool, error) {
		db, err := NewPostgresDB(connStr, key)
		if err != nil {
			return nil, false, err
		}
		ready, err := db.Ready()
		if err != nil {
			db.Close()
			return nil, false, err
		}
		return db, ready, nil
	}
}

// Ready reports whether this feed has been built already.
func (p *PostgresDB) Ready() (bool, error) {
	var found int
	err := p.db.QueryRow(rebind("SELECT 1 FROM feeds WHERE feed_key = ?"), p.feedKey).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking feed: %w", err)
	}
	return true, nil
}

func (p *PostgresDB) WriteFeed(feed *Feed) error {
	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// A concurrent double-build overwrites with identical content.
	for _, table := range []string{"trips", "stop_times", "calendar", "calendar_dates"} {
		if _, err := tx.Exec(rebind("DELETE FROM "+table+" WHERE feed_key = ?"), p.feedKey); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	tripStmt, err := tx.Prepare(rebind(
		"INSERT INTO trips (feed_key, trip_id, route_id, service_id, direction_id) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("preparing trip insert: %w", err)
	}
	defer tripStmt.Close()
	for _, t := range feed.Trips {
		if _, err := tripStmt.Exec(p.feedKey, t.ID, t.RouteID, t.ServiceID, t.DirectionID); err != nil {
			return fmt.Errorf("inserting trip %s: %w", t.ID, err)
		}
	}

	stStmt, err := tx.Prepare(rebind(
		"INSERT INTO stop_times (feed_key, trip_id, stop_id, stop_sequence, arrival_seconds) VALUES (?, ?, ?, ?, ?)"))
	if err != nil {
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}
	defer stStmt.Close()
	for _, st := range feed.StopTimes {
		if _, err := stStmt.Exec(p.feedKey, st.TripID, st.StopID, st.StopSequence, st.ArrivalSeconds); err != nil {
			return fmt.Errorf("inserting stop_time %s/%d: %w", st.TripID, st.StopSequence, err)
		}
	}

	for _, c := range feed.Calendars {
		_, err := tx.Exec(rebind(
			"INSERT INTO calendar (feed_key, service_id, start_date, end_date, weekday) VALUES (?, ?, ?, ?, ?)"),
			p.feedKey, c.ServiceID, c.StartDate, c.EndDate, c.Weekday,
		)
		if err != nil {
			return fmt.Errorf("inserting calendar %s: %w", c.ServiceID, err)
		}
	}

	for _, cd := range feed.CalendarDates {
		_, err := tx.Exec(rebind(
			"INSERT INTO calendar_dates (feed_key, service_id, date, exception_type) VALUES (?, ?, ?, ?)"),
			p.feedKey, cd.ServiceID, cd.Date, cd.ExceptionType,
		)
		if err != nil {
			return fmt.Errorf("inserting calendar_date %s/%d: %w", cd.ServiceID, cd.Date, err)
		}
	}

	_, err = tx.Exec(rebind(
		"INSERT INTO feeds (feed_key) VALUES (?) ON CONFLICT (feed_key) DO NOTHING"), p.feedKey)
	if err != nil {
		return fmt.Errorf("marking feed built: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (p *PostgresDB) StopTimesForTrips(tripIDs []string) ([]model.ScheduledStopTime, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	if len(tripIDs) > MaxQueryParams {
		return nil, fmt.Errorf("%d trip ids exceeds query limit %d", len(tripIDs), MaxQueryParams)
	}

	query := rebind(`
SELECT st.trip_id, st.stop_id, st.arrival_seconds, t.route_id, t.direction_id
FROM stop_times st
JOIN trips t ON t.feed_key = st.feed_key AND t.trip_id = st.trip_id
WHERE st.feed_key = ? AND st.trip_id IN (` + placeholders(len(tripIDs)) + `)
ORDER BY st.trip_id, st.stop_sequence`)

	params := make([]interface{}, 0, len(tripIDs)+1)
	params = append(params, p.feedKey)
	for _, id := range tripIDs {
		params = append(params, id)
	}

	rows, err := p.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanScheduledStopTimes(rows)
}

func (p *PostgresDB) ActiveServices(date model.Date) ([]string, error) {
	rows, err := p.db.Query(rebind(`
WITH
exceptions AS (
    SELECT service_id, exception_type
    FROM calendar_dates
    WHERE feed_key = ? AND date = ?
),
regular AS (
    SELECT service_id
    FROM calendar
    WHERE feed_key = ? AND
          (weekday & ?) != 0 AND
          start_date <= ? AND
          end_date >= ?
)
SELECT service_id FROM regular
WHERE service_id NOT IN (SELECT service_id FROM exceptions WHERE exception_type = 2)
UNION
SELECT service_id FROM exceptions WHERE exception_type = 1`),
		p.feedKey, date.DateInt(), p.feedKey, weekdayBit(date), date.DateInt(), date.DateInt(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying active services: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (p *PostgresDB) TripIDsForServices(serviceIDs []string) ([]string, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	if len(serviceIDs) > MaxQueryParams {
		return nil, fmt.Errorf("%d service ids exceeds query limit %d", len(serviceIDs), MaxQueryParams)
	}

	params := make([]interface{}, 0, len(serviceIDs)+1)
	params = append(params, p.feedKey)
	for _, id := range serviceIDs {
		params = append(params, id)
	}

	rows, err := p.db.Query(rebind(
		"SELECT trip_id FROM trips WHERE feed_key = ? AND service_id IN ("+
			placeholders(len(serviceIDs))+") ORDER BY trip_id"),
		params...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// rebind converts ?-style placeholders to Postgres $1..$n.
func rebind(query string) string {
	sb := strings.Builder{}
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
