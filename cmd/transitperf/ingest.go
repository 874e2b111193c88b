package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"transitperf.dev/events/model"
	"transitperf.dev/events/servicedate"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest one day's live snapshot and publish its stop partitions",
	Args:  cobra.NoArgs,
	RunE:  ingest,
}

var (
	ingestDate string
	yesterday  bool
)

func init() {
	ingestCmd.Flags().StringVarP(&ingestDate, "date", "d", "", "Service date (YYYY-MM-DD), default today")
	ingestCmd.Flags().BoolVarP(&yesterday, "yesterday", "y", false, "Ingest the previous service date")
}

func ingest(cmd *cobra.Command, args []string) error {
	if ingestDate != "" && yesterday {
		return fmt.Errorf("--date and --yesterday are mutually exclusive")
	}

	date := servicedate.Current()
	if yesterday {
		date = servicedate.ServiceDate(time.Now().AddDate(0, 0, -1))
	}
	if ingestDate != "" {
		var err error
		date, err = model.ParseDate(ingestDate)
		if err != nil {
			return err
		}
	}

	pipeline, _, err := buildPipeline()
	if err != nil {
		return err
	}
	defer closeSchedule(pipeline)

	return pipeline.IngestDay(cmd.Context(), date)
}
