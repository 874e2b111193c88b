// Package feed fetches raw performance data: the live daily snapshot
// published as parquet, and the bulk yearly archives used for
// backfill.
package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"
	"github.com/spkg/bom"

	"transitperf.dev/events/model"
)

// liveRow mirrors the column layout of the published daily snapshot.
// Timestamps and benchmarks are nullable epoch/duration seconds;
// reading them as anything but int64 risks float truncation.
type liveRow struct {
	ServiceDate  int64  `parquet:"service_date"`
	RouteID      string `parquet:"route_id"`
	TripID       string `parquet:"trip_id"`
	StopID       string `parquet:"stop_id"`
	DirectionID  int64  `parquet:"direction_id"`
	StopSequence int64  `parquet:"stop_sequence"`
	VehicleID    string `parquet:"vehicle_id"`
	VehicleLabel string `parquet:"vehicle_label"`

	MoveTimestamp *int64 `parquet:"move_timestamp,optional"`
	StopTimestamp *int64 `parquet:"stop_timestamp,optional"`

	TravelTimeSeconds      *int64 `parquet:"travel_time_seconds,optional"`
	DwellTimeSeconds       *int64 `parquet:"dwell_time_seconds,optional"`
	HeadwayTrunkSeconds    *int64 `parquet:"headway_trunk_seconds,optional"`
	HeadwayBranchSeconds   *int64 `parquet:"headway_branch_seconds,optional"`
	ScheduledTravelTime    *int64 `parquet:"scheduled_travel_time,optional"`
	ScheduledHeadwayTrunk  *int64 `parquet:"scheduled_headway_trunk,optional"`
	ScheduledHeadwayBranch *int64 `parquet:"scheduled_headway_branch,optional"`
}

// snapshotColumns is the column set a snapshot must carry. The
// decoder zero-fills columns missing from the file, which would turn
// a schema change upstream into silently empty output, so the file
// schema is checked before decoding.
var snapshotColumns = []string{
	"service_date",
	"route_id",
	"trip_id",
	"stop_id",
	"direction_id",
	"stop_sequence",
	"vehicle_id",
	"vehicle_label",
	"move_timestamp",
	"stop_timestamp",
	"travel_time_seconds",
	"dwell_time_seconds",
	"headway_trunk_seconds",
	"headway_branch_seconds",
	"scheduled_travel_time",
	"scheduled_headway_trunk",
	"scheduled_headway_branch",
}

func checkSnapshotSchema(f *parquet.File) error {
	present := map[string]bool{}
	for _, field := range f.Schema().Fields() {
		present[field.Name()] = true
	}

	missing := []string{}
	for _, col := range snapshotColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("snapshot schema missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Live fetches daily snapshots from the performance data host.
type Live struct {
	// Snapshot URL; {date} is replaced with the ISO service date.
	URLTemplate string

	// CSV listing the snapshot files that exist.
	IndexURL string

	Client *http.Client
}

func (l *Live) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return &http.Client{Timeout: 5 * time.Minute}
}

func (l *Live) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	resp, err := l.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

// FetchDay downloads and decodes the snapshot for one service date.
// The trunk headway columns land in the unqualified headway fields;
// branch metrics keep their own columns.
func (l *Live) FetchDay(ctx context.Context, date model.Date) ([]model.RawPositionRecord, error) {
	url := strings.ReplaceAll(l.URLTemplate, "{date}", date.String())
	body, err := l.get(ctx, url)
	if err != nil {
		return nil, err
	}

	file, err := parquet.OpenFile(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("opening snapshot for %s: %w", date, err)
	}
	if err := checkSnapshotSchema(file); err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", date, err)
	}

	rows, err := parquet.Read[liveRow](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot for %s: %w", date, err)
	}

	records := make([]model.RawPositionRecord, 0, len(rows))
	for _, row := range rows {
		serviceDate, err := model.ParseDateInt(int(row.ServiceDate))
		if err != nil {
			return nil, fmt.Errorf("snapshot for %s: %w", date, err)
		}
		records = append(records, model.RawPositionRecord{
			ServiceDate:   serviceDate,
			RouteID:       row.RouteID,
			TripID:        row.TripID,
			DirectionID:   int8(row.DirectionID),
			StopID:        row.StopID,
			StopSequence:  int(row.StopSequence),
			VehicleID:     row.VehicleID,
			VehicleLabel:  row.VehicleLabel,
			MoveTimestamp: row.MoveTimestamp,
			StopTimestamp: row.StopTimestamp,
			Benchmarks: model.Benchmarks{
				TravelTimeSeconds:      row.TravelTimeSeconds,
				DwellTimeSeconds:       row.DwellTimeSeconds,
				HeadwaySeconds:         row.HeadwayTrunkSeconds,
				HeadwayBranchSeconds:   row.HeadwayBranchSeconds,
				ScheduledTravelTime:    row.ScheduledTravelTime,
				ScheduledHeadway:       row.ScheduledHeadwayTrunk,
				ScheduledHeadwayBranch: row.ScheduledHeadwayBranch,
			},
		})
	}
	return records, nil
}

// indexRow is one line of the publisher's index CSV.
type indexRow struct {
	FileName string `csv:"file_name"`
}

// AvailableDates lists the service dates present in the publisher's
// index, in the order listed. File names start with the ISO date;
// rows that don't match are skipped.
func (l *Live) AvailableDates(ctx context.Context) ([]model.Date, error) {
	body, err := l.get(ctx, l.IndexURL)
	if err != nil {
		return nil, err
	}

	rows := []indexRow{}
	if err := gocsv.UnmarshalCSV(gocsv.LazyCSVReader(bom.NewReader(bytes.NewReader(body))), &rows); err != nil {
		return nil, fmt.Errorf("parsing index %s: %w", l.IndexURL, err)
	}

	dates := []model.Date{}
	for _, row := range rows {
		name := path.Base(strings.TrimSpace(row.FileName))
		if len(name) < 10 {
			continue
		}
		date, err := model.ParseDate(name[:10])
		if err != nil {
			continue
		}
		dates = append(dates, date)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("index %s lists no snapshot files", l.IndexURL)
	}
	return dates, nil
}
