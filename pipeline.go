// Package events turns raw transit vehicle data into the published
// arrival/departure event archive. It glues the fetchers, the
// reconciliation stages, the schedule store and the partitioned
// writer into the live daily path and the historical backfill paths.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"transitperf.dev/events/blob"
	"transitperf.dev/events/config"
	"transitperf.dev/events/feed"
	"transitperf.dev/events/model"
	"transitperf.dev/events/output"
	"transitperf.dev/events/recon"
	"transitperf.dev/events/schedule"
	"transitperf.dev/events/servicedate"
)

// ScheduleSource provides the planned stop times for a service date.
// Satisfied by schedule.Store.
type ScheduleSource interface {
	ScheduledForDate(ctx context.Context, date model.Date) ([]model.ScheduledStopTime, error)
}

type Pipeline struct {
	Live     *feed.Live
	Historic *feed.Historic
	Schedule ScheduleSource
	Writer   *Writer
	Logger   *slog.Logger
}

// Writer is the subset of the output writer the pipeline drives,
// plus the invalidation hook for the dashboard-facing bucket.
type Writer struct {
	Daily        func(ctx context.Context, events []model.Event, date model.Date) ([]string, error)
	Monthly      func(ctx context.Context, events []model.Event) ([]string, error)
	MonthlyBus   func(ctx context.Context, events []model.Event) ([]string, error)
	MonthlyFerry func(ctx context.Context, events []model.Event) ([]string, error)
	Invalidate   func(ctx context.Context, paths []string) error
}

// NewPipeline wires a production pipeline: live and historic
// fetchers from the config, the schedule store, and a partitioned
// writer targeting the dashboard bucket.
func NewPipeline(cfg *config.Config, eventsBucket blob.Store, sched *schedule.Store, logger *slog.Logger) *Pipeline {
	w := &output.Writer{
		Store:         eventsBucket,
		DailyPrefix:   cfg.Buckets.DailyPrefix,
		MonthlyPrefix: "Events",
		Workers:       cfg.Workers,
	}
	p := &Pipeline{
		Live: &feed.Live{
			URLTemplate: cfg.Live.URLTemplate,
			IndexURL:    cfg.Live.IndexURL,
		},
		Historic: &feed.Historic{
			URLTemplate: cfg.Historical.URLTemplate,
			RapidIDs:    cfg.Historical.RapidIDs,
			BusIDs:      cfg.Historical.BusIDs,
			FerryURL:    cfg.Historical.FerryURL,
			CacheRoot:   cfg.CacheRoot,
		},
		Writer: &Writer{
			Daily:        w.WriteDaily,
			Monthly:      w.WriteMonthly,
			MonthlyBus:   w.WriteMonthlyBus,
			MonthlyFerry: w.WriteMonthlyFerry,
			Invalidate:   eventsBucket.Invalidate,
		},
		Logger: logger,
	}
	if sched != nil {
		p.Schedule = sched
	}
	return p
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// IngestDay runs the live path for one service date: fetch the
// snapshot, reconcile it into events, enrich against the schedule,
// write one file per stop and invalidate the edge cache for the
// written paths. A schedule failure degrades the day to unenriched
// events rather than losing it; a fetch or write failure fails the
// whole day visibly.
func (p *Pipeline) IngestDay(ctx context.Context, date model.Date) error {
	log := p.logger().With("service_date", date.String())

	records, err := p.Live.FetchDay(ctx, date)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", date, err)
	}
	log.Info("fetched live snapshot", "records", len(records))

	events, err := p.reconcile(ctx, recon.Explode(records, servicedate.Eastern), date, log)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", date, err)
	}

	keys, err := p.Writer.Daily(ctx, events, date)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", date, err)
	}
	log.Info("wrote daily partitions", "stops", len(keys))

	if p.Writer.Invalidate != nil {
		paths := make([]string, len(keys))
		for i, key := range keys {
			paths[i] = "/" + key
		}
		if err := p.Writer.Invalidate(ctx, paths); err != nil {
			return fmt.Errorf("ingesting %s: invalidating cache: %w", date, err)
		}
	}
	return nil
}

// reconcile runs the stages shared by all modes of raw event input:
// departure correction, noise filtering, stop canonicalization,
// branch disambiguation, schedule enrichment and headway smoothing.
func (p *Pipeline) reconcile(ctx context.Context, events []model.Event, date model.Date, log *slog.Logger) ([]model.Event, error) {
	events, err := recon.CorrectDepartureStops(events)
	if err != nil {
		return nil, err
	}
	events = recon.FilterNoise(events)
	events = recon.CanonicalizeStops(events)
	events, err = recon.DisambiguateBranches(events)
	if err != nil {
		return nil, err
	}

	result := p.enrich(ctx, events, date)
	switch result.Outcome {
	case recon.OutcomeFailed:
		log.Warn("schedule enrichment failed, writing unenriched events", "reason", result.Reason)
	case recon.OutcomePartial:
		log.Warn("schedule enrichment incomplete",
			"reason", result.Reason, "matched", result.Matched, "imputed", result.Imputed)
	default:
		log.Info("enriched events", "matched", result.Matched, "imputed", result.Imputed)
	}

	events = recon.SmoothHeadways(result.Events, date, servicedate.Eastern)
	recon.SortByEventTime(events)
	return events, nil
}

func (p *Pipeline) enrich(ctx context.Context, events []model.Event, date model.Date) recon.EnrichResult {
	if p.Schedule == nil {
		return recon.Failed(events, fmt.Errorf("no schedule store configured"))
	}
	scheduled, err := p.Schedule.ScheduledForDate(ctx, date)
	if err != nil {
		return recon.Failed(events, err)
	}
	return recon.Enrich(events, scheduled, date, servicedate.Eastern)
}
