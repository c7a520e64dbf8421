package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/visit-scheduler/jobs"
	"github.com/warp/visit-scheduler/migration"
	"github.com/warp/visit-scheduler/session"
)

// =============================================================================
// SWEEP
// =============================================================================

func newSweepCmd() *cobra.Command {
	var task string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run background sweeps once and exit",
		Long: `Run the hold expiry and/or eligibility sweep once, under the configured
job lock, and print the result of each as JSON.

Examples:
  # Expire stale holds
  server sweep --task expiry

  # Run every sweep
  server sweep`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			locker, err := a.locker(cmd.Context())
			if err != nil {
				return err
			}
			scheduler := jobs.NewScheduler(locker, a.log, a.tasks()...)

			names := scheduler.Tasks()
			if task != "" {
				names = []string{task}
			}
			results := make(map[string]any, len(names))
			for _, name := range names {
				res, err := scheduler.RunNow(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				results[name] = res
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVarP(&task, "task", "t", "", "Sweep to run (expiry, eligibility); all when empty")
	return cmd
}

// =============================================================================
// MATCH
// =============================================================================

func newMatchCmd() *cobra.Command {
	var (
		prisonerID string
		prison     string
		date       string
		start      string
		end        string
		room       string
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Rank session templates for a legacy visit without writing",
		Long: `Score every session template at a prison against a legacy visit and
print the ranking. Nothing is written. The prisoner's stored classification
is used when known.

Examples:
  server match --prison MDI --date 2025-03-10 --start 09:15 --end 10:15 --prisoner A1234BC`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := migration.LegacyVisit{Prison: prison, RoomName: room}
			var err error
			if v.Date, err = session.ParseDate(date); err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			if v.Start, err = session.ParseTimeOfDay(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if v.End, err = session.ParseTimeOfDay(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			a, err := newApp(configFile)
			if err != nil {
				return err
			}
			defer a.Close()

			v.Prisoner = session.Prisoner{ID: prisonerID, Prison: prison}
			if prisonerID != "" {
				p, err := a.store.Prisoner(cmd.Context(), prisonerID)
				switch {
				case err == nil:
					v.Prisoner = p
				case !session.IsNotFound(err):
					return err
				}
			}

			best, ranked, err := a.engine.MatchMigratedVisit(cmd.Context(), v)
			out := matchOutput{Ranking: make([]scoreRow, len(ranked))}
			for i, s := range ranked {
				out.Ranking[i] = scoreRow{
					Reference: s.Definition.Reference,
					Name:      s.Definition.Name,
					Slot:      s.Definition.Start.String() + "-" + s.Definition.End.String(),
					Proximity: s.Proximity,
					Location:  s.Location,
					Category:  s.Category,
					Incentive: s.Incentive,
					Room:      s.Room,
				}
			}
			var miss *session.MigrationMatchError
			switch {
			case err == nil:
				out.Match = best.Reference
			case errors.As(err, &miss):
				out.Reason = miss.Reason
			default:
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&prisonerID, "prisoner", "", "Prisoner number")
	cmd.Flags().StringVar(&prison, "prison", "", "Prison code")
	cmd.Flags().StringVar(&date, "date", "", "Visit date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "Start time (HH:MM)")
	cmd.Flags().StringVar(&end, "end", "", "End time (HH:MM)")
	cmd.Flags().StringVar(&room, "room", "", "Legacy visit room name")
	for _, f := range []string{"prison", "date", "start", "end"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

type matchOutput struct {
	Match   string     `json:"match,omitempty"`
	Reason  string     `json:"reason,omitempty"`
	Ranking []scoreRow `json:"ranking"`
}

type scoreRow struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
	Slot      string `json:"slot"`
	Proximity int    `json:"proximity"`
	Location  int    `json:"location"`
	Category  bool   `json:"category"`
	Incentive bool   `json:"incentive"`
	Room      bool   `json:"room"`
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
