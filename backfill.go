package events

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"

	"transitperf.dev/events/bus"
	"transitperf.dev/events/ferry"
	"transitperf.dev/events/model"
	"transitperf.dev/events/recon"
	"transitperf.dev/events/servicedate"
)

// historicRow is one line of a yearly rapid transit export. Files
// are already exploded into events; newer exports rename the
// sequence column to sync_stop_sequence.
type historicRow struct {
	ServiceDate      string `csv:"service_date"`
	RouteID          string `csv:"route_id"`
	TripID           string `csv:"trip_id"`
	DirectionID      int8   `csv:"direction_id"`
	StopID           string `csv:"stop_id"`
	StopSequence     *int   `csv:"stop_sequence"`
	SyncStopSequence *int   `csv:"sync_stop_sequence"`
	VehicleID        string `csv:"vehicle_id"`
	VehicleLabel     string `csv:"vehicle_label"`
	EventType        string `csv:"event_type"`
	EventTimeSec     int    `csv:"event_time_sec"`
}

// loadHistoricCSV reads a yearly export file into events. The
// event_time_sec column holds seconds past midnight of the service
// date, which can exceed 24h for overnight service.
func loadHistoricCSV(path string) ([]model.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rows := []historicRow{}
	if err := gocsv.Unmarshal(bom.NewReader(f), &rows); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	events := make([]model.Event, 0, len(rows))
	for _, row := range rows {
		date, err := model.ParseDate(row.ServiceDate)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sequence := 0
		switch {
		case row.StopSequence != nil:
			sequence = *row.StopSequence
		case row.SyncStopSequence != nil:
			sequence = *row.SyncStopSequence
		}
		events = append(events, model.Event{
			ServiceDate:  date,
			RouteID:      row.RouteID,
			TripID:       row.TripID,
			DirectionID:  row.DirectionID,
			StopID:       row.StopID,
			StopSequence: sequence,
			VehicleID:    row.VehicleID,
			VehicleLabel: row.VehicleLabel,
			EventType:    model.EventType(row.EventType),
			EventTime: date.Time(servicedate.Eastern).
				Add(time.Duration(row.EventTimeSec) * time.Second),
		})
	}
	return events, nil
}

// enrichByDate splits a multi-day event table by service date and
// enriches each day against its schedule. Days whose schedule cannot
// be fetched or matched keep their raw events; historical data is
// archived either way.
func (p *Pipeline) enrichByDate(ctx context.Context, events []model.Event) []model.Event {
	byDate := map[model.Date][]model.Event{}
	for _, e := range events {
		byDate[e.ServiceDate] = append(byDate[e.ServiceDate], e)
	}

	out := make([]model.Event, 0, len(events))
	for date, day := range byDate {
		result := p.enrich(ctx, day, date)
		if result.Outcome == recon.OutcomeFailed {
			p.logger().Warn("archiving day without schedule data",
				"service_date", date.String(), "reason", result.Reason)
		}
		out = append(out, recon.SmoothHeadways(result.Events, date, servicedate.Eastern)...)
	}
	return out
}

// BackfillRapidYear rebuilds the monthly rapid transit archive for
// one year from the bulk export. Failures are per file: a corrupt
// quarter does not abort the rest of the year.
func (p *Pipeline) BackfillRapidYear(ctx context.Context, year string) error {
	files, err := p.Historic.DownloadRapidYear(ctx, year)
	if err != nil {
		return fmt.Errorf("backfilling %s: %w", year, err)
	}

	failures := 0
	for _, path := range files {
		log := p.logger().With("year", year, "file", path)
		if err := p.backfillRapidFile(ctx, path); err != nil {
			log.Error("skipping export file", "error", err)
			failures++
			continue
		}
		log.Info("archived export file")
	}
	if failures > 0 {
		return fmt.Errorf("backfilling %s: %d of %d files failed", year, failures, len(files))
	}
	return nil
}

func (p *Pipeline) backfillRapidFile(ctx context.Context, path string) error {
	events, err := loadHistoricCSV(path)
	if err != nil {
		return err
	}
	events = recon.CanonicalizeStops(events)
	events, err = recon.DisambiguateBranches(events)
	if err != nil {
		return err
	}
	events = p.enrichByDate(ctx, events)

	_, err = p.Writer.Monthly(ctx, events)
	return err
}

// BackfillBusYear rebuilds the monthly bus archive for one year.
// routes, when non-empty, restricts processing to the named routes.
func (p *Pipeline) BackfillBusYear(ctx context.Context, year string, routes []string) error {
	files, err := p.Historic.DownloadBusYear(ctx, year)
	if err != nil {
		return fmt.Errorf("backfilling bus %s: %w", year, err)
	}

	failures := 0
	for _, path := range files {
		log := p.logger().With("year", year, "file", path)
		if err := p.backfillBusFile(ctx, path, routes); err != nil {
			log.Error("skipping bus export file", "error", err)
			failures++
			continue
		}
		log.Info("archived bus export file")
	}
	if failures > 0 {
		return fmt.Errorf("backfilling bus %s: %d of %d files failed", year, failures, len(files))
	}
	return nil
}

func (p *Pipeline) backfillBusFile(ctx context.Context, path string, routes []string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rows, err := bus.Load(f)
	if err != nil {
		return err
	}
	events, err := bus.Events(rows, routes)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	_, err = p.Writer.MonthlyBus(ctx, events)
	return err
}

// BackfillFerry rebuilds the ferry archive. The dataset is one file
// covering all years; start and end, when non-zero, bound the
// service dates processed.
func (p *Pipeline) BackfillFerry(ctx context.Context, start, end model.Date) error {
	files, err := p.Historic.DownloadFerry(ctx)
	if err != nil {
		return fmt.Errorf("backfilling ferry: %w", err)
	}

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("backfilling ferry: %w", err)
		}
		rows, err := ferry.Load(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("backfilling ferry: %w", err)
		}
		events, err := ferry.Events(rows, start, end)
		if err != nil {
			return fmt.Errorf("backfilling ferry: %w", err)
		}
		if len(events) == 0 {
			p.logger().Info("no ferry sailings in range", "file", path)
			continue
		}
		if _, err := p.Writer.MonthlyFerry(ctx, events); err != nil {
			return fmt.Errorf("backfilling ferry: %w", err)
		}
	}
	return nil
}

// BackfillIndex re-ingests every service date the live publisher's
// index lists within [start, end]. Failed days are logged and
// skipped so one bad snapshot does not halt a long backfill.
func (p *Pipeline) BackfillIndex(ctx context.Context, start, end model.Date) error {
	dates, err := p.Live.AvailableDates(ctx)
	if err != nil {
		return fmt.Errorf("backfilling from index: %w", err)
	}

	processed, failures := 0, 0
	for _, date := range dates {
		if date.Before(start) || date.After(end) {
			continue
		}
		processed++
		if err := p.IngestDay(ctx, date); err != nil {
			p.logger().Error("skipping service date", "service_date", date.String(), "error", err)
			failures++
		}
	}
	if processed == 0 {
		return fmt.Errorf("backfilling from index: no listed dates between %s and %s", start, end)
	}
	if failures > 0 {
		return fmt.Errorf("backfilling from index: %d of %d days failed", failures, processed)
	}
	return nil
}
