package schedule

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"transitperf.dev/events/model"
)

type SQLiteDB struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trips (
    trip_id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    direction_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_seconds INTEGER NOT NULL,
PRIMARY KEY (trip_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_trip ON stop_times (trip_id);

CREATE TABLE IF NOT EXISTS calendar (
    service_id TEXT PRIMARY KEY,
    start_date INTEGER NOT NULL,
    end_date INTEGER NOT NULL,
    weekday INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS calendar_dates (
    service_id TEXT NOT NULL,
    date INTEGER NOT NULL,
    exception_type INTEGER NOT NULL,
PRIMARY KEY (service_id, date)
);

CREATE TABLE IF NOT EXISTS services (
    service_id TEXT PRIMARY KEY
);`

// NewSQLiteDB opens (or creates) a schedule database file. Pass
// ":memory:" for an ephemeral database in tests.
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func (s *SQLiteDB) WriteFeed(feed *Feed) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Rebuilds replace prior content wholesale.
	for _, table := range []string{"trips", "stop_times", "calendar", "calendar_dates"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	tripStmt, err := tx.Prepare("INSERT INTO trips (trip_id, route_id, service_id, direction_id) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing trip insert: %w", err)
	}
	defer tripStmt.Close()
	for _, t := range feed.Trips {
		if _, err := tripStmt.Exec(t.ID, t.RouteID, t.ServiceID, t.DirectionID); err != nil {
			return fmt.Errorf("inserting trip %s: %w", t.ID, err)
		}
	}

	stStmt, err := tx.Prepare("INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_seconds) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}
	defer stStmt.Close()
	for _, st := range feed.StopTimes {
		if _, err := stStmt.Exec(st.TripID, st.StopID, st.StopSequence, st.ArrivalSeconds); err != nil {
			return fmt.Errorf("inserting stop_time %s/%d: %w", st.TripID, st.StopSequence, err)
		}
	}

	for _, c := range feed.Calendars {
		_, err := tx.Exec(
			"INSERT INTO calendar (service_id, start_date, end_date, weekday) VALUES (?, ?, ?, ?)",
			c.ServiceID, c.StartDate, c.EndDate, c.Weekday,
		)
		if err != nil {
			return fmt.Errorf("inserting calendar %s: %w", c.ServiceID, err)
		}
	}

	for _, cd := range feed.CalendarDates {
		_, err := tx.Exec(
			"INSERT INTO calendar_dates (service_id, date, exception_type) VALUES (?, ?, ?)",
			cd.ServiceID, cd.Date, cd.ExceptionType,
		)
		if err != nil {
			return fmt.Errorf("inserting calendar_date %s/%d: %w", cd.ServiceID, cd.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (s *SQLiteDB) StopTimesForTrips(tripIDs []string) ([]model.ScheduledStopTime, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	if len(tripIDs) > MaxQueryParams {
		return nil, fmt.Errorf("%d trip ids exceeds query limit %d", len(tripIDs), MaxQueryParams)
	}

	query := `
SELECT st.trip_id, st.stop_id, st.arrival_seconds, t.route_id, t.direction_id
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
WHERE st.trip_id IN (` + placeholders(len(tripIDs)) + `)
ORDER BY st.trip_id, st.stop_sequence`

	params := make([]interface{}, len(tripIDs))
	for i, id := range tripIDs {
		params[i] = id
	}

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanScheduledStopTimes(rows)
}

func (s *SQLiteDB) ActiveServices(date model.Date) ([]string, error) {
	rows, err := s.db.Query(`
WITH
Exceptions AS (
    SELECT service_id, exception_type
    FROM calendar_dates
    WHERE date = ?
),
Regular AS (
    SELECT service_id
    FROM calendar
    WHERE (weekday & ?) != 0 AND
          start_date <= ? AND
          end_date >= ?
)
SELECT service_id FROM Regular
WHERE service_id NOT IN (SELECT service_id FROM Exceptions WHERE exception_type = 2)
UNION
SELECT service_id FROM Exceptions WHERE exception_type = 1`,
		date.DateInt(), weekdayBit(date), date.DateInt(), date.DateInt(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying active services: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *SQLiteDB) TripIDsForServices(serviceIDs []string) ([]string, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}
	if len(serviceIDs) > MaxQueryParams {
		return nil, fmt.Errorf("%d service ids exceeds query limit %d", len(serviceIDs), MaxQueryParams)
	}

	params := make([]interface{}, len(serviceIDs))
	for i, id := range serviceIDs {
		params[i] = id
	}

	rows, err := s.db.Query(
		"SELECT trip_id FROM trips WHERE service_id IN ("+placeholders(len(serviceIDs))+") ORDER BY trip_id",
		params...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func scanScheduledStopTimes(rows *sql.Rows) ([]model.ScheduledStopTime, error) {
	result := []model.ScheduledStopTime{}
	for rows.Next() {
		var st model.ScheduledStopTime
		err := rows.Scan(&st.TripID, &st.StopID, &st.ArrivalSeconds, &st.RouteID, &st.DirectionID)
		if err != nil {
			return nil, fmt.Errorf("scanning stop_time: %w", err)
		}
		result = append(result, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop_times: %w", err)
	}
	return result, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	result := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return result, nil
}
