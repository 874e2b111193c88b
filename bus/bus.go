// Package bus adapts the yearly bus export format into the shared
// event model. Bus exports predate the common schema and carry their
// own column names, direction labels and timestamp conventions.
package bus

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"transitperf.dev/events/model"
	"transitperf.dev/events/servicedate"
)

// Exports before this date carry a Z suffix on actual times even
// though the values are Eastern wall clock, not UTC.
var zSuffixCutoff = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

// Row is one line of a bus export file.
type Row struct {
	ServiceDate      string `csv:"service_date"`
	RouteID          string `csv:"route_id"`
	Direction        string `csv:"direction_id"`
	HalfTripID       string `csv:"half_trip_id"`
	StopID           string `csv:"stop_id"`
	TimePointID      string `csv:"time_point_id"`
	TimePointOrder   int    `csv:"time_point_order"`
	PointType        string `csv:"point_type"`
	StandardType     string `csv:"standard_type"`
	Scheduled        string `csv:"scheduled"`
	Actual           string `csv:"actual"`
	ScheduledHeadway *int64 `csv:"scheduled_headway"`
	Headway          *int64 `csv:"headway"`
}

// Load reads a bus export file. Files may start with a UTF-8 BOM.
func Load(r io.Reader) ([]Row, error) {
	rows := []Row{}
	if err := gocsv.Unmarshal(bom.NewReader(r), &rows); err != nil {
		return nil, fmt.Errorf("reading bus export: %w", err)
	}
	return rows, nil
}

var directionIDs = map[string]int8{
	"Outbound": 0,
	"Inbound":  1,
}

// normalizeRoute strips the leading zeros the export pads route
// numbers with ("057" is route 57 everywhere else).
func normalizeRoute(routeID string) string {
	trimmed := strings.TrimLeft(routeID, "0")
	if trimmed == "" {
		return routeID
	}
	return trimmed
}

// parseActual resolves an export timestamp against the service date.
// Older files express times on a 1900-01-01 base date, where the day
// component carries overnight service past midnight. Newer files use
// ISO timestamps; see zSuffixCutoff for the Z handling.
func parseActual(value string, date model.Date) (time.Time, error) {
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil && t.Year() == 1900 {
		midnight := date.Time(servicedate.Eastern)
		return midnight.AddDate(0, 0, t.Day()-1).
			Add(time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second), nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing actual time %q: %w", value, err)
	}
	if t.Before(zSuffixCutoff) {
		// Mislabeled zone; the wall clock is already Eastern.
		return time.Date(t.Year(), t.Month(), t.Day(),
			t.Hour(), t.Minute(), t.Second(), 0, servicedate.Eastern), nil
	}
	return t.In(servicedate.Eastern), nil
}

// eventTypesFor maps a row's position in its trip to the events its
// single recorded time stands for. A midpoint's time serves as both
// the arrival and the immediate departure.
func eventTypesFor(pointType string) ([]model.EventType, error) {
	switch pointType {
	case "Startpoint":
		return []model.EventType{model.Departure}, nil
	case "Midpoint":
		return []model.EventType{model.Arrival, model.Departure}, nil
	case "Endpoint":
		return []model.EventType{model.Arrival}, nil
	}
	return nil, fmt.Errorf("unknown point type %q", pointType)
}

// Events converts export rows to events. Rows without a recorded
// actual time are schedule-only and dropped. routes, when non-empty,
// keeps only the named routes (after zero stripping).
func Events(rows []Row, routes []string) ([]model.Event, error) {
	wanted := map[string]bool{}
	for _, r := range routes {
		wanted[r] = true
	}

	events := []model.Event{}
	for _, row := range rows {
		if row.Actual == "" {
			continue
		}
		routeID := normalizeRoute(row.RouteID)
		if len(wanted) > 0 && !wanted[routeID] {
			continue
		}

		direction, known := directionIDs[row.Direction]
		if !known {
			return nil, fmt.Errorf("trip %s: unknown direction %q", row.HalfTripID, row.Direction)
		}
		date, err := model.ParseDate(row.ServiceDate)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", row.HalfTripID, err)
		}
		at, err := parseActual(row.Actual, date)
		if err != nil {
			return nil, fmt.Errorf("trip %s: %w", row.HalfTripID, err)
		}
		types, err := eventTypesFor(row.PointType)
		if err != nil {
			return nil, fmt.Errorf("trip %s stop %s: %w", row.HalfTripID, row.StopID, err)
		}

		for _, eventType := range types {
			events = append(events, model.Event{
				ServiceDate:   date,
				RouteID:       routeID,
				TripID:        row.HalfTripID,
				DirectionID:   direction,
				StopID:        row.StopID,
				StopSequence:  row.TimePointOrder,
				EventType:     eventType,
				EventTime:     at,
				BranchRouteID: routeID,
				Benchmarks: model.Benchmarks{
					HeadwaySeconds:   row.Headway,
					ScheduledHeadway: row.ScheduledHeadway,
				},
			})
		}
	}
	return events, nil
}
