package cli

import (
	"strconv"

	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/internal/domain/timing"
	"github.com/spf13/cobra"
)

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List results not yet synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := rootOpts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer closeAgent(cmd, a)

			pending, err := a.Cache.Pending(cmd.Context())
			if err != nil {
				return err
			}
			model.SortByFinishTime(pending)

			out := newOutput(rootOpts.Format, cmd.OutOrStdout())
			if out.isJSON() {
				if pending == nil {
					pending = []model.FinishRecord{}
				}
				return out.json(pending)
			}
			rows := make([][]string, 0, len(pending))
			for _, r := range pending {
				rows = append(rows, []string{r.RunnerNumber, timing.FormatElapsed(r.FinishTime), r.RecordedAt})
			}
			return out.table([]string{"BIB", "TIME", "RECORDED AT"}, rows)
		},
	}
}

// NewLogCommand creates the log command. The race log survives syncs and
// is only emptied by clear.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "List every result captured on this station, synced or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := rootOpts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer closeAgent(cmd, a)

			raceLog, err := a.Cache.RaceLog(cmd.Context())
			if err != nil {
				return err
			}

			out := newOutput(rootOpts.Format, cmd.OutOrStdout())
			if out.isJSON() {
				if raceLog == nil {
					raceLog = []model.FinishRecord{}
				}
				return out.json(raceLog)
			}
			rows := make([][]string, 0, len(raceLog))
			for i, r := range raceLog {
				rows = append(rows, []string{strconv.Itoa(i + 1), r.RunnerNumber, timing.FormatElapsed(r.FinishTime), r.RecordedAt})
			}
			return out.table([]string{"#", "BIB", "TIME", "RECORDED AT"}, rows)
		},
	}
}

// NewLeaderboardCommand creates the leaderboard command.
func NewLeaderboardCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the server's results by finish time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := rootOpts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer closeAgent(cmd, a)

			board, err := a.Client.Leaderboard(cmd.Context())
			if err != nil {
				return err
			}

			out := newOutput(rootOpts.Format, cmd.OutOrStdout())
			if out.isJSON() {
				return out.json(board)
			}
			rows := make([][]string, 0, len(board))
			for i, r := range board {
				rows = append(rows, []string{strconv.Itoa(i + 1), r.RunnerNumber, timing.FormatElapsed(r.FinishTime)})
			}
			return out.table([]string{"POS", "BIB", "TIME"}, rows)
		},
	}
}

// NewClearCommand creates the clear command. Server data is never touched.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard local pending results and the race log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, _, err := rootOpts.openAgent(cmd)
			if err != nil {
				return err
			}
			defer closeAgent(cmd, a)

			if err := a.Cache.ClearAll(cmd.Context()); err != nil {
				return err
			}
			return newOutput(rootOpts.Format, cmd.OutOrStdout()).line("local results cleared")
		},
	}
}
