// Package output partitions the finalized event table and writes one
// tabular file per partition to the object store.
package output

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"

	"github.com/gocarina/gocsv"

	"transitperf.dev/events/blob"
	"transitperf.dev/events/model"
	"transitperf.dev/events/parallel"
	"transitperf.dev/events/recon"
)

const eventTimeLayout = "2006-01-02 15:04:05"

// Row is one CSV line of the published events file. Column order is
// the contract consumers depend on; do not reorder.
type Row struct {
	ServiceDate            string `csv:"service_date"`
	RouteID                string `csv:"route_id"`
	TripID                 string `csv:"trip_id"`
	DirectionID            int8   `csv:"direction_id"`
	StopID                 string `csv:"stop_id"`
	StopSequence           int    `csv:"stop_sequence"`
	VehicleID              string `csv:"vehicle_id"`
	VehicleLabel           string `csv:"vehicle_label"`
	EventType              string `csv:"event_type"`
	EventTime              string `csv:"event_time"`
	TravelTimeSeconds      *int64 `csv:"travel_time_seconds"`
	DwellTimeSeconds       *int64 `csv:"dwell_time_seconds"`
	HeadwaySeconds         *int64 `csv:"headway_seconds"`
	HeadwayBranchSeconds   *int64 `csv:"headway_branch_seconds"`
	ScheduledTravelTime    *int64 `csv:"scheduled_travel_time"`
	ScheduledHeadway       *int64 `csv:"scheduled_headway"`
	ScheduledHeadwayBranch *int64 `csv:"scheduled_headway_branch"`
}

func rowOf(e model.Event) *Row {
	b := e.Benchmarks
	return &Row{
		ServiceDate:            e.ServiceDate.String(),
		RouteID:                e.RouteID,
		TripID:                 e.TripID,
		DirectionID:            e.DirectionID,
		StopID:                 e.StopID,
		StopSequence:           e.StopSequence,
		VehicleID:              e.VehicleID,
		VehicleLabel:           e.VehicleLabel,
		EventType:              string(e.EventType),
		EventTime:              e.EventTime.Format(eventTimeLayout),
		TravelTimeSeconds:      b.TravelTimeSeconds,
		DwellTimeSeconds:       b.DwellTimeSeconds,
		HeadwaySeconds:         b.HeadwaySeconds,
		HeadwayBranchSeconds:   b.HeadwayBranchSeconds,
		ScheduledTravelTime:    b.ScheduledTravelTime,
		ScheduledHeadway:       b.ScheduledHeadway,
		ScheduledHeadwayBranch: b.ScheduledHeadwayBranch,
	}
}

// Encode serializes events in their final column order. Events are
// sorted chronologically first, so encoding the same table twice
// yields identical bytes.
func Encode(events []model.Event) ([]byte, error) {
	recon.SortByEventTime(events)

	rows := make([]*Row, len(events))
	for i, e := range events {
		rows[i] = rowOf(e)
	}
	data, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, fmt.Errorf("encoding events: %w", err)
	}
	return data, nil
}

// GzipDeterministic compresses data with the gzip header's embedded
// modification time pinned to zero. Regenerating unchanged data must
// produce a byte-identical object, or downstream sync tooling would
// re-upload every file on every run.
func GzipDeterministic(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := gzip.NewWriter(buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compressing: %w", err)
	}
	return buf.Bytes(), nil
}

// A Writer uploads partitioned event files under its key prefixes.
type Writer struct {
	Store blob.Store

	// Key prefix for per-day live output, e.g.
	// "Events-live/daily-data".
	DailyPrefix string

	// Key prefix for the long-term monthly archive, e.g. "Events".
	MonthlyPrefix string

	// Concurrent uploads.
	Workers int
}

type partition struct {
	key    string
	events []model.Event
}

func (w *Writer) put(ctx context.Context, parts []partition, compress bool) ([]string, error) {
	keys, err := parallel.Map(parts, w.Workers, func(p partition) (string, error) {
		data, err := Encode(p.events)
		if err != nil {
			return "", fmt.Errorf("partition %s: %w", p.key, err)
		}
		contentType := "text/csv"
		if compress {
			if data, err = GzipDeterministic(data); err != nil {
				return "", fmt.Errorf("partition %s: %w", p.key, err)
			}
			contentType = "application/gzip"
		}
		if err := w.Store.Put(ctx, p.key, data, blob.PutOptions{ContentType: contentType}); err != nil {
			return "", fmt.Errorf("partition %s: %w", p.key, err)
		}
		return p.key, nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func groupBy(events []model.Event, keyFn func(model.Event) string) []partition {
	byKey := map[string][]model.Event{}
	for _, e := range events {
		key := keyFn(e)
		byKey[key] = append(byKey[key], e)
	}
	parts := make([]partition, 0, len(byKey))
	for key, group := range byKey {
		parts = append(parts, partition{key: key, events: group})
	}
	return parts
}

// WriteDaily writes one uncompressed file per stop for a single
// service date and returns the written keys, which the caller passes
// to edge-cache invalidation. Month and day are not zero padded in
// the key.
func (w *Writer) WriteDaily(ctx context.Context, events []model.Event, date model.Date) ([]string, error) {
	parts := groupBy(events, func(e model.Event) string {
		return fmt.Sprintf("%s/%s/Year=%d/Month=%d/Day=%d/events.csv",
			w.DailyPrefix, e.StopID, date.Year, int(date.Month), date.Day)
	})
	return w.put(ctx, parts, false)
}

// WriteMonthly writes the historical rapid transit archive, one
// compressed file per (month, stop).
func (w *Writer) WriteMonthly(ctx context.Context, events []model.Event) ([]string, error) {
	parts := groupBy(events, func(e model.Event) string {
		month := e.ServiceDate.MonthStart()
		return fmt.Sprintf("%s/monthly-data/%s/Year=%d/Month=%d/events.csv.gz",
			w.MonthlyPrefix, e.StopID, month.Year, int(month.Month))
	})
	return w.put(ctx, parts, true)
}

// WriteMonthlyBus writes the historical bus archive, partitioned by
// (month, route, direction, stop) since one stop serves many routes.
func (w *Writer) WriteMonthlyBus(ctx context.Context, events []model.Event) ([]string, error) {
	parts := groupBy(events, func(e model.Event) string {
		month := e.ServiceDate.MonthStart()
		return fmt.Sprintf("%s/monthly-bus-data/%s-%d-%s/Year=%d/Month=%d/events.csv.gz",
			w.MonthlyPrefix, e.RouteID, e.DirectionID, e.StopID, month.Year, int(month.Month))
	})
	return w.put(ctx, parts, true)
}

// WriteMonthlyFerry writes the historical ferry archive. Ferry route
// ids embed hyphens, so the partition components are pipe separated.
func (w *Writer) WriteMonthlyFerry(ctx context.Context, events []model.Event) ([]string, error) {
	parts := groupBy(events, func(e model.Event) string {
		month := e.ServiceDate.MonthStart()
		return fmt.Sprintf("%s/monthly-ferry-data/%s|%d|%s/Year=%d/Month=%d/events.csv.gz",
			w.MonthlyPrefix, e.RouteID, e.DirectionID, e.StopID, month.Year, int(month.Month))
	})
	return w.put(ctx, parts, true)
}
