package schedule

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
	"github.com/spkg/bom"
)

// Minimal relational representation of a schedule feed: just what
// stop-time enrichment needs.

type Trip struct {
	ID          string
	RouteID     string
	ServiceID   string
	DirectionID int8
}

type StopTime struct {
	TripID         string
	StopID         string
	StopSequence   int
	ArrivalSeconds int
}

type Calendar struct {
	ServiceID string
	StartDate int
	EndDate   int
	Weekday   int8
}

type CalendarDate struct {
	ServiceID     string
	Date          int
	ExceptionType int8
}

type Feed struct {
	Trips         []Trip
	StopTimes     []StopTime
	Calendars     []Calendar
	CalendarDates []CalendarDate
}

type tripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	DirectionID int8   `csv:"direction_id"`
}

type stopTimeCSV struct {
	TripID       string `csv:"trip_id"`
	StopID       string `csv:"stop_id"`
	StopSequence int    `csv:"stop_sequence"`
	ArrivalTime  string `csv:"arrival_time"`
}

type calendarCSV struct {
	ServiceID string `csv:"service_id"`
	StartDate int    `csv:"start_date"`
	EndDate   int    `csv:"end_date"`
	Monday    int8   `csv:"monday"`
	Tuesday   int8   `csv:"tuesday"`
	Wednesday int8   `csv:"wednesday"`
	Thursday  int8   `csv:"thursday"`
	Friday    int8   `csv:"friday"`
	Saturday  int8   `csv:"saturday"`
	Sunday    int8   `csv:"sunday"`
}

type calendarDateCSV struct {
	ServiceID     string `csv:"service_id"`
	Date          int    `csv:"date"`
	ExceptionType int8   `csv:"exception_type"`
}

// ParseFeed extracts trips, stop times and service calendars from a
// zipped GTFS bundle.
func ParseFeed(buf []byte) (*Feed, error) {
	file := map[string]io.ReadCloser{
		"trips.txt":          nil,
		"stop_times.txt":     nil,
		"calendar.txt":       nil,
		"calendar_dates.txt": nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if _, found := file[fName]; !found {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		file[fName] = rc
	}

	for _, required := range []string{"trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return nil, fmt.Errorf("missing %s", required)
		}
	}
	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}

	// LazyCSVReader survives sloppy quoting; the BOM reader strips
	// unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})

	feed := &Feed{}

	tripsCsv := []*tripCSV{}
	if err := gocsv.Unmarshal(file["trips.txt"], &tripsCsv); err != nil {
		return nil, errors.Wrap(err, "unmarshaling trips csv")
	}
	tripIDs := map[string]bool{}
	for _, t := range tripsCsv {
		if t.ID == "" {
			return nil, fmt.Errorf("empty trip_id")
		}
		if tripIDs[t.ID] {
			return nil, fmt.Errorf("repeated trip_id '%s'", t.ID)
		}
		tripIDs[t.ID] = true
		if t.DirectionID != 0 && t.DirectionID != 1 {
			return nil, fmt.Errorf("invalid direction_id '%d'", t.DirectionID)
		}
		feed.Trips = append(feed.Trips, Trip{
			ID:          t.ID,
			RouteID:     t.RouteID,
			ServiceID:   t.ServiceID,
			DirectionID: t.DirectionID,
		})
	}

	stopTimesCsv := []*stopTimeCSV{}
	if err := gocsv.Unmarshal(file["stop_times.txt"], &stopTimesCsv); err != nil {
		return nil, errors.Wrap(err, "unmarshaling stop_times csv")
	}
	for i, st := range stopTimesCsv {
		if !tripIDs[st.TripID] {
			return nil, fmt.Errorf("unknown trip_id '%s' (row %d)", st.TripID, i+1)
		}
		if st.StopID == "" {
			return nil, fmt.Errorf("missing stop_id (row %d)", i+1)
		}
		arrival, err := parseArrivalTime(st.ArrivalTime)
		if err != nil {
			return nil, errors.Wrapf(err, "stop_times row %d", i+1)
		}
		feed.StopTimes = append(feed.StopTimes, StopTime{
			TripID:         st.TripID,
			StopID:         st.StopID,
			StopSequence:   st.StopSequence,
			ArrivalSeconds: arrival,
		})
	}

	if file["calendar.txt"] != nil {
		calendarCsvs := []*calendarCSV{}
		if err := gocsv.Unmarshal(file["calendar.txt"], &calendarCsvs); err != nil {
			return nil, errors.Wrap(err, "unmarshaling calendar csv")
		}
		for _, c := range calendarCsvs {
			if c.ServiceID == "" {
				return nil, fmt.Errorf("empty service_id")
			}
			var weekday int8
			for day, set := range map[time.Weekday]int8{
				time.Monday:    c.Monday,
				time.Tuesday:   c.Tuesday,
				time.Wednesday: c.Wednesday,
				time.Thursday:  c.Thursday,
				time.Friday:    c.Friday,
				time.Saturday:  c.Saturday,
				time.Sunday:    c.Sunday,
			} {
				if set == 1 {
					weekday |= 1 << day
				} else if set != 0 {
					return nil, fmt.Errorf("invalid weekday value '%d' for service '%s'", set, c.ServiceID)
				}
			}
			feed.Calendars = append(feed.Calendars, Calendar{
				ServiceID: c.ServiceID,
				StartDate: c.StartDate,
				EndDate:   c.EndDate,
				Weekday:   weekday,
			})
		}
	}

	if file["calendar_dates.txt"] != nil {
		calendarDateCsvs := []*calendarDateCSV{}
		if err := gocsv.Unmarshal(file["calendar_dates.txt"], &calendarDateCsvs); err != nil {
			return nil, errors.Wrap(err, "unmarshaling calendar_dates csv")
		}
		for _, cd := range calendarDateCsvs {
			if cd.ExceptionType != 1 && cd.ExceptionType != 2 {
				return nil, fmt.Errorf("invalid exception_type '%d'", cd.ExceptionType)
			}
			feed.CalendarDates = append(feed.CalendarDates, CalendarDate{
				ServiceID:     cd.ServiceID,
				Date:          cd.Date,
				ExceptionType: cd.ExceptionType,
			})
		}
	}

	return feed, nil
}

// parseArrivalTime converts a GTFS HH:MM:SS time to seconds since
// midnight of the service date. The hour may exceed 23 for
// post-midnight service.
func parseArrivalTime(s string) (int, error) {
	split := strings.Split(s, ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(strings.TrimSpace(str))
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 || hms[0] > 99 {
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}
