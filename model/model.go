package model

import (
	"fmt"
	"time"
)

// Holds the record types shared by all pipeline stages.

type EventType string

const (
	Arrival   EventType = "ARR"
	Departure EventType = "DEP"
)

// Date is a calendar date without a time component. Service dates are
// Dates: an operating day runs from 03:00 local to 03:00 the next
// calendar day, but is named by the calendar date it started on.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

func DateOf(t time.Time) Date {
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// ParseDate parses an ISO date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("parsing date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// ParseDateInt parses a dateint such as 20240207.
func ParseDateInt(n int) (Date, error) {
	if n < 10000101 || n > 99991231 {
		return Date{}, fmt.Errorf("dateint %d out of range", n)
	}
	d := Date{Year: n / 10000, Month: time.Month(n / 100 % 100), Day: n % 100}
	if d.Month < 1 || d.Month > 12 || d.Day < 1 || d.Day > 31 {
		return Date{}, fmt.Errorf("dateint %d is not a date", n)
	}
	return d, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// DateInt returns the date as an integer, e.g. 20240207.
func (d Date) DateInt() int {
	return d.Year*10000 + int(d.Month)*100 + d.Day
}

// Time returns midnight of the date in the given location.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.DateInt() < o.DateInt()
}

func (d Date) After(o Date) bool {
	return d.DateInt() > o.DateInt()
}

// Month truncates the date to the first of its month. Used as a
// partition key component for monthly output.
func (d Date) MonthStart() Date {
	return Date{Year: d.Year, Month: d.Month, Day: 1}
}

// RawPositionRecord is one observation of a vehicle at a stop on a
// trip, as delivered by the live snapshot feed. Timestamps are epoch
// seconds and nullable: MoveTimestamp is the departure from the
// *previous* stop, StopTimestamp the arrival at this stop.
type RawPositionRecord struct {
	ServiceDate  Date
	RouteID      string
	TripID       string
	DirectionID  int8
	StopID       string
	StopSequence int
	VehicleID    string
	VehicleLabel string

	MoveTimestamp *int64
	StopTimestamp *int64

	Benchmarks Benchmarks
}

// Benchmarks are the precomputed adherence columns carried through
// from the upstream feed. All are in seconds and nullable.
type Benchmarks struct {
	TravelTimeSeconds      *int64
	DwellTimeSeconds       *int64
	HeadwaySeconds         *int64
	HeadwayBranchSeconds   *int64
	ScheduledTravelTime    *int64
	ScheduledHeadway       *int64
	ScheduledHeadwayBranch *int64
}

// Event is one ARRIVAL or DEPARTURE at a specific stop, trip and
// time. For a DEPARTURE the StopID is the previous stop in sequence
// order for the trip, per operational convention. Events are never
// mutated after reconciliation, only enriched with derived columns.
type Event struct {
	ServiceDate  Date
	RouteID      string
	TripID       string
	DirectionID  int8
	StopID       string
	StopSequence int
	VehicleID    string
	VehicleLabel string
	EventType    EventType
	EventTime    time.Time

	// Derived during branch disambiguation. Equal to RouteID for
	// routes without conflated branches.
	BranchRouteID string

	Benchmarks Benchmarks
}

// ScheduledStopTime is a planned trip's planned visit to a stop,
// obtained from the schedule store for one service date. Arrival is
// seconds since midnight of the service date and may exceed 24h for
// post-midnight service.
type ScheduledStopTime struct {
	TripID         string
	StopID         string
	ArrivalSeconds int
	RouteID        string
	DirectionID    int8
}
