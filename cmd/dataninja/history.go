package main

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dataninja/internal/app"
	"dataninja/internal/state"
)

func newMissionsCmd() *cobra.Command {
	cfg, envErr := newConfig()
	cmd := &cobra.Command{
		Use:   "missions",
		Short: "List the missions in a pack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			pack, err := app.LoadPack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			t := table.New().Headers("ID", "TITLE", "POINTS", "CHECKS")
			for _, m := range pack.Missions {
				t.Row(m.MissionID, m.Title, strconv.Itoa(m.Points), strconv.Itoa(len(m.Checks)))
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s) v%s\n", pack.Name, pack.PackID, pack.Version)
			fmt.Fprintln(out, t.Render())
			fmt.Fprintf(out, "max score %d, %s on the clock, warning at %s left\n",
				pack.MaxScore(), pack.Duration(), pack.WarnBefore())
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.PacksDir, "packs-dir", cfg.PacksDir, "extra mission packs directory")
	cmd.Flags().StringVar(&cfg.PackID, "pack", cfg.PackID, "mission pack id")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	cfg, envErr := newConfig()
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past training sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			cfg.Offline = true
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := state.NewSQLite(filepath.Join(cfg.DataDir, "state.db"))
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			sessions, err := store.ListSessions(ctx, limit)
			if err != nil {
				return err
			}
			sum, err := store.GetSummary(ctx)
			if err != nil {
				return err
			}
			progress, err := store.GetMissionProgressMap(ctx)
			if err != nil {
				return err
			}
			settings, err := store.LoadSettings(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No training sessions yet. Run `dataninja play` to start.")
				return nil
			}
			t := table.New().Headers("STARTED", "PACK", "PHASE", "SCORE", "TIME", "RUNS", "CHECKS", "RESETS", "SUBMITTED")
			for _, s := range sessions {
				t.Row(
					humanize.Time(s.StartTS),
					s.PackID,
					s.Phase,
					fmt.Sprintf("%d/%d", s.Score, s.MaxScore),
					played(s),
					humanize.Comma(int64(s.Runs)),
					fmt.Sprintf("%d/%d", s.Passes, s.Attempts),
					strconv.Itoa(s.Resets),
					submitted(s),
				)
			}
			fmt.Fprintln(out, t.Render())
			fmt.Fprintf(out, "%s sessions, %s runs, %s submissions, best score %d\n",
				humanize.Comma(int64(sum.Sessions)), humanize.Comma(int64(sum.Runs)),
				humanize.Comma(int64(sum.Submissions)), sum.BestScore)
			if len(progress) > 0 {
				fmt.Fprintln(out, progressTable(progress))
			}
			if pack := settings["last_pack"]; pack != "" {
				fmt.Fprintf(out, "last played %s with %s\n", pack, settings["last_engine"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the progress store")
	cmd.Flags().IntVar(&limit, "limit", 20, "sessions to show")
	return cmd
}

func progressTable(progress map[string]state.MissionProgress) string {
	t := table.New().Headers("MISSION", "PASSED", "BEST TIME", "LAST PLAYED")
	for _, id := range slices.Sorted(maps.Keys(progress)) {
		p := progress[id]
		best := "-"
		if p.PassedCount > 0 {
			best = (time.Duration(p.BestTimeMS) * time.Millisecond).Round(time.Second).String()
		}
		t.Row(id, strconv.Itoa(p.PassedCount), best, humanize.Time(p.LastPlayedTS))
	}
	return t.Render()
}

func played(s state.SessionSummary) string {
	if s.EndTS.IsZero() {
		return "-"
	}
	return s.EndTS.Sub(s.StartTS).Round(time.Second).String()
}

func submitted(s state.SessionSummary) string {
	switch {
	case s.Submitted:
		return "yes"
	case s.LastOutcome != "":
		return s.LastOutcome
	default:
		return "no"
	}
}
