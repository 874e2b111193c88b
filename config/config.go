// Package config loads pipeline configuration from YAML.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transitperf.dev/events/model"
)

type Config struct {
	// Root directory for locally materialized schedule databases
	// and downloaded bulk archives. Always set explicitly; there
	// is no implicit process-wide temp default.
	CacheRoot string `yaml:"cache_root" validate:"required"`

	// Worker pool size for per-partition writes.
	Workers int `yaml:"workers" validate:"gte=1"`

	Live       Live       `yaml:"live"`
	Buckets    Buckets    `yaml:"buckets"`
	Schedule   Schedule   `yaml:"schedule"`
	Historical Historical `yaml:"historical"`
}

type Live struct {
	// Daily snapshot URL; {date} is replaced with the ISO service
	// date.
	URLTemplate string `yaml:"url_template" validate:"required,contains={date}"`

	// CSV index of available service dates.
	IndexURL string `yaml:"index_url" validate:"required"`
}

type Buckets struct {
	// Dashboard-facing events bucket. Writes here are followed by
	// an edge-cache invalidation.
	Events string `yaml:"events" validate:"required"`

	// Output prefix within the events bucket for the live daily
	// path.
	DailyPrefix string `yaml:"daily_prefix" validate:"required"`

	// Bucket mirroring built schedule databases across the fleet.
	Schedule string `yaml:"schedule" validate:"required"`
}

type Schedule struct {
	Feeds []FeedRange `yaml:"feeds" validate:"required,dive"`

	// Postgres connection string for a fleet-shared schedule
	// store. Empty selects per-process SQLite files.
	PostgresURL string `yaml:"postgres_url"`
}

// FeedRange maps an inclusive service-date range to the schedule
// feed archive covering it.
type FeedRange struct {
	StartDate string `yaml:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string `yaml:"end_date" validate:"required,datetime=2006-01-02"`
	URL       string `yaml:"url" validate:"required,url"`
}

func (f FeedRange) Start() (model.Date, error) { return model.ParseDate(f.StartDate) }
func (f FeedRange) End() (model.Date, error)   { return model.ParseDate(f.EndDate) }

type Historical struct {
	// Bulk archive URL; {id} is replaced with the per-year dataset
	// id.
	URLTemplate string `yaml:"url_template" validate:"required,contains={id}"`

	// Per-year dataset ids, keyed by year, per mode.
	RapidIDs map[string]string `yaml:"rapid_ids"`
	BusIDs   map[string]string `yaml:"bus_ids"`

	FerryURL string `yaml:"ferry_url"`
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse unmarshals and validates YAML config bytes. Defaults are
// applied before validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a config beyond struct tags: feed ranges must be
// parseable and ordered.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	for _, f := range cfg.Schedule.Feeds {
		start, err := f.Start()
		if err != nil {
			return err
		}
		end, err := f.End()
		if err != nil {
			return err
		}
		if start.After(end) {
			return fmt.Errorf("feed %s: start %s after end %s", f.URL, f.StartDate, f.EndDate)
		}
	}
	return nil
}

// Default returns the production configuration. A config file only
// needs to override what differs.
func Default() *Config {
	return &Config{
		CacheRoot: "data",
		Workers:   5,
		Live: Live{
			URLTemplate: "https://performancedata.example.com/otp/{date}-on-time-performance-v1.parquet",
			IndexURL:    "https://performancedata.example.com/otp/index.csv",
		},
		Buckets: Buckets{
			Events:      "tp-performance",
			DailyPrefix: "Events-live/daily-data",
			Schedule:    "tp-gtfs",
		},
		Schedule: Schedule{
			Feeds: []FeedRange{
				{StartDate: "2024-01-01", EndDate: "2024-12-31", URL: "https://gtfs.example.com/archive/20240101.zip"},
				{StartDate: "2025-01-01", EndDate: "2026-12-31", URL: "https://gtfs.example.com/archive/20250101.zip"},
			},
		},
		Historical: Historical{
			URLTemplate: "https://archive.example.com/sharing/rest/content/items/{id}/data",
			RapidIDs: map[string]string{
				"2016": "3e892be850fe4cc4a15d6450de4bd318",
				"2017": "cde60045db904ad299922f4f8759dcad",
				"2018": "25c3086e9826407e9f59dd9844f6c975",
				"2019": "11bbb87f8fb245c2b87ed3c8a099b95f",
				"2020": "cb4cf52bafb1402b9b978a424ed4dd78",
				"2021": "611b8c77f30245a0af0c62e2859e8b49",
				"2022": "99094a0c59e443cdbdaefa071c6df609",
				"2023": "9a7f5634db72459ab731b6a9b274a1d4",
				"2024": "0711756aa5e1400891e79b984a94b495",
				"2025": "e2344a2297004b36b82f57772926ed1a",
			},
			BusIDs: map[string]string{
				"2018": "f2c2df5b036a4a0a9b5f1e2b4f4383e0",
				"2019": "0b2f8b4cc5e94eeb94b6c9f41e0de177",
				"2020": "4e27cb9b1c164e6b8c4a8c6c6b6f7a31",
				"2021": "7fd4e5a739a84ec3b1b5faed4e2d2f7d",
				"2022": "b53608c69a8b4c0aa1ec6a6e0a2aa10f",
				"2023": "c9e4d2c0721f44f8a7cfd3a5a2b5e6d9",
				"2024": "d40b8f8aae1c47e6a9f4c3a0b7d2e8f1",
				"2025": "a1c2e3f4b5d60718293a4b5c6d7e8f90",
			},
			FerryURL: "https://archive.example.com/ferry/latest.csv",
		},
	}
}
