package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"transitperf.dev/events/model"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Rebuild the historical archive from bulk exports",
}

var backfillIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Re-ingest every published live snapshot in a date range",
	Args:  cobra.NoArgs,
	RunE:  backfillIndex,
}

var backfillYearCmd = &cobra.Command{
	Use:   "year [years...]",
	Short: "Rebuild the monthly rapid transit archive from yearly exports",
	Long:  "Rebuilds the monthly rapid transit archive. With no arguments, processes every configured year (asks for confirmation first).",
	RunE:  backfillYear,
}

var backfillBusCmd = &cobra.Command{
	Use:   "bus [years...]",
	Short: "Rebuild the monthly bus archive from yearly exports",
	RunE:  backfillBus,
}

var backfillFerryCmd = &cobra.Command{
	Use:   "ferry",
	Short: "Rebuild the ferry archive",
	Args:  cobra.NoArgs,
	RunE:  backfillFerry,
}

var (
	startDate string
	endDate   string
	busRoutes []string
	assumeYes bool
)

func init() {
	backfillIndexCmd.Flags().StringVarP(&startDate, "start", "s", "", "First service date (YYYY-MM-DD)")
	backfillIndexCmd.Flags().StringVarP(&endDate, "end", "e", "", "Last service date (YYYY-MM-DD)")
	backfillFerryCmd.Flags().StringVarP(&startDate, "start", "s", "", "First service date (YYYY-MM-DD)")
	backfillFerryCmd.Flags().StringVarP(&endDate, "end", "e", "", "Last service date (YYYY-MM-DD)")
	backfillBusCmd.Flags().StringSliceVarP(&busRoutes, "route", "r", nil, "Restrict to specific routes")
	backfillYearCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	backfillBusCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")

	backfillCmd.AddCommand(backfillIndexCmd)
	backfillCmd.AddCommand(backfillYearCmd)
	backfillCmd.AddCommand(backfillBusCmd)
	backfillCmd.AddCommand(backfillFerryCmd)
}

// parseDateRange validates the --start/--end pair. Both are
// optional; zero Dates mean unbounded.
func parseDateRange() (model.Date, model.Date, error) {
	var start, end model.Date
	var err error
	if startDate != "" {
		if start, err = model.ParseDate(startDate); err != nil {
			return start, end, err
		}
	}
	if endDate != "" {
		if end, err = model.ParseDate(endDate); err != nil {
			return start, end, err
		}
	}
	if (start != model.Date{}) && (end != model.Date{}) && start.After(end) {
		return start, end, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return start, end, nil
}

// confirm prompts before a full multi-year run, which downloads and
// rewrites years of archive data.
func confirm(years []string) bool {
	if assumeYes {
		return true
	}
	fmt.Printf("About to rebuild %d years of archive data (%s). Continue? [y/N] ",
		len(years), strings.Join(years, ", "))
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func backfillIndex(cmd *cobra.Command, args []string) error {
	start, end, err := parseDateRange()
	if err != nil {
		return err
	}

	pipeline, _, err := buildPipeline()
	if err != nil {
		return err
	}
	defer closeSchedule(pipeline)

	return pipeline.BackfillIndex(cmd.Context(), start, end)
}

func backfillYear(cmd *cobra.Command, args []string) error {
	pipeline, cfg, err := buildPipeline()
	if err != nil {
		return err
	}
	defer closeSchedule(pipeline)

	years := args
	if len(years) == 0 {
		for year := range cfg.Historical.RapidIDs {
			years = append(years, year)
		}
		sort.Strings(years)
		if !confirm(years) {
			return fmt.Errorf("aborted")
		}
	}

	failed := []string{}
	for _, year := range years {
		if err := pipeline.BackfillRapidYear(cmd.Context(), year); err != nil {
			fmt.Fprintf(os.Stderr, "year %s: %v\n", year, err)
			failed = append(failed, year)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("backfill incomplete for years: %s", strings.Join(failed, ", "))
	}
	return nil
}

func backfillBus(cmd *cobra.Command, args []string) error {
	pipeline, cfg, err := buildPipeline()
	if err != nil {
		return err
	}
	defer closeSchedule(pipeline)

	years := args
	if len(years) == 0 {
		for year := range cfg.Historical.BusIDs {
			years = append(years, year)
		}
		sort.Strings(years)
		if !confirm(years) {
			return fmt.Errorf("aborted")
		}
	}

	failed := []string{}
	for _, year := range years {
		if err := pipeline.BackfillBusYear(cmd.Context(), year, busRoutes); err != nil {
			fmt.Fprintf(os.Stderr, "bus year %s: %v\n", year, err)
			failed = append(failed, year)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("bus backfill incomplete for years: %s", strings.Join(failed, ", "))
	}
	return nil
}

func backfillFerry(cmd *cobra.Command, args []string) error {
	start, end, err := parseDateRange()
	if err != nil {
		return err
	}

	pipeline, _, err := buildPipeline()
	if err != nil {
		return err
	}
	defer closeSchedule(pipeline)

	return pipeline.BackfillFerry(cmd.Context(), start, end)
}
