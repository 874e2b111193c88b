// Package ferry adapts the ferry ridership export into the shared
// event model. Ferry service has no stop sequences or vehicle
// telemetry; each row is one sailing leg with a departure from one
// terminal and an arrival at another.
package ferry

import (
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/spkg/bom"

	"transitperf.dev/events/model"
	"transitperf.dev/events/servicedate"
)

// Row is one sailing leg of the ridership export.
type Row struct {
	ServiceDate       string `csv:"service_date"`
	Route             string `csv:"route_id"`
	Direction         string `csv:"direction_id"`
	TripID            string `csv:"trip_id"`
	DepartureTerminal string `csv:"departure_terminal"`
	ArrivalTerminal   string `csv:"arrival_terminal"`
	DepartureTime     string `csv:"actual_departure"`
	ArrivalTime       string `csv:"actual_arrival"`
}

// Load reads a ferry export file.
func Load(r io.Reader) ([]Row, error) {
	rows := []Row{}
	if err := gocsv.Unmarshal(bom.NewReader(r), &rows); err != nil {
		return nil, fmt.Errorf("reading ferry export: %w", err)
	}
	return rows, nil
}

var directionIDs = map[string]int8{
	"From Boston": 0,
	"To Boston":   1,
}

const timeLayout = "2006-01-02 15:04:05"

func parseLocal(value string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, value, servicedate.Eastern)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", value, err)
	}
	return t, nil
}

// Events converts sailing legs to events: a DEP at the departure
// terminal and an ARR at the arrival terminal. Terminals act as stop
// ids. Route ids get the mode's Boat- prefix, matching how the rest
// of the system names ferry routes. Legs missing a trip id get a
// generated one so a leg still groups with itself downstream. start
// and end, when non-zero, bound the service dates kept (inclusive).
func Events(rows []Row, start, end model.Date) ([]model.Event, error) {
	events := []model.Event{}
	for _, row := range rows {
		date, err := model.ParseDate(row.ServiceDate)
		if err != nil {
			return nil, fmt.Errorf("ferry row: %w", err)
		}
		if (start != model.Date{}) && date.Before(start) {
			continue
		}
		if (end != model.Date{}) && date.After(end) {
			continue
		}

		direction, known := directionIDs[row.Direction]
		if !known {
			return nil, fmt.Errorf("ferry trip %q: unknown direction %q", row.TripID, row.Direction)
		}

		tripID := row.TripID
		if tripID == "" {
			tripID = uuid.NewString()
		}
		routeID := "Boat-" + row.Route

		if row.DepartureTime != "" {
			at, err := parseLocal(row.DepartureTime)
			if err != nil {
				return nil, fmt.Errorf("ferry trip %q: %w", tripID, err)
			}
			events = append(events, leg(date, routeID, tripID, direction, row.DepartureTerminal, model.Departure, at))
		}
		if row.ArrivalTime != "" {
			at, err := parseLocal(row.ArrivalTime)
			if err != nil {
				return nil, fmt.Errorf("ferry trip %q: %w", tripID, err)
			}
			events = append(events, leg(date, routeID, tripID, direction, row.ArrivalTerminal, model.Arrival, at))
		}
	}
	return events, nil
}

func leg(date model.Date, routeID, tripID string, direction int8, terminal string, eventType model.EventType, at time.Time) model.Event {
	return model.Event{
		ServiceDate:   date,
		RouteID:       routeID,
		TripID:        tripID,
		DirectionID:   direction,
		StopID:        terminal,
		EventType:     eventType,
		EventTime:     at,
		BranchRouteID: routeID,
	}
}
