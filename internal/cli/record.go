package cli

import (
	"fmt"

	"github.com/okian/speedsync/internal/client/syncer"
	"github.com/okian/speedsync/internal/domain/model"
	"github.com/okian/speedsync/internal/domain/timing"
	"github.com/spf13/cobra"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	AssumeOnline bool
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record <bib> <elapsed>",
		Short: "Record one finish",
		Long: `Record a finish for bib at elapsed, given in milliseconds or HH:MM:SS.

The result is saved locally first. If the server answers, it is pushed
together with anything else still pending.

Example:
  speedsync record 42 00:01:05
  speedsync record 42 65000`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordOne(cmd, opts, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&opts.AssumeOnline, "assume-online", false, "skip the connectivity probe and push right away")

	return cmd
}

func recordOne(cmd *cobra.Command, opts *RecordOptions, bib, elapsed string) error {
	ms, err := timing.ParseMillisOrElapsed(elapsed)
	if err != nil {
		return err
	}

	a, _, err := opts.openAgent(cmd)
	if err != nil {
		return err
	}
	defer closeAgent(cmd, a)

	ctx := cmd.Context()
	if opts.AssumeOnline {
		a.Monitor.Set(true)
	} else {
		a.Monitor.Probe(ctx)
	}

	rec, err := a.Recorder.Record(ctx, bib, ms)
	if err != nil {
		return err
	}
	a.Engine.Wait()

	out := newOutput(opts.Format, cmd.OutOrStdout())
	synced := a.Monitor.Online() && a.Engine.LastStatus().Outcome == syncer.OutcomeSynced
	if out.isJSON() {
		return out.json(struct {
			Record model.FinishRecord `json:"record"`
			Synced bool               `json:"synced"`
		}{rec, synced})
	}

	state := "saved locally"
	if synced {
		state = "synced"
	}
	return out.line(fmt.Sprintf("#%s %s %s", rec.RunnerNumber, timing.FormatElapsed(rec.FinishTime), state))
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending results once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return syncOnce(cmd, rootOpts)
		},
	}
	return cmd
}

func syncOnce(cmd *cobra.Command, opts *RootOptions) error {
	a, _, err := opts.openAgent(cmd)
	if err != nil {
		return err
	}
	defer closeAgent(cmd, a)

	outcome := a.Engine.PushPendingResults(cmd.Context())
	st := a.Engine.LastStatus()

	out := newOutput(opts.Format, cmd.OutOrStdout())
	if out.isJSON() {
		body := struct {
			Outcome  string `json:"outcome"`
			Pushed   int    `json:"pushed"`
			Inserted int    `json:"inserted"`
			Error    string `json:"error,omitempty"`
		}{Outcome: outcome.String(), Pushed: st.Pushed, Inserted: st.Inserted}
		if st.Err != nil {
			body.Error = st.Err.Error()
		}
		if err := out.json(body); err != nil {
			return err
		}
	} else {
		switch outcome {
		case syncer.OutcomeEmpty:
			err = out.line("nothing to sync")
		case syncer.OutcomeSynced:
			err = out.line(fmt.Sprintf("synced %d results, %d new on the server", st.Pushed, st.Inserted))
		default:
			err = out.line(fmt.Sprintf("sync %s, %d results kept", outcome, st.Pushed))
		}
		if err != nil {
			return err
		}
	}

	if outcome == syncer.OutcomeFailed {
		return fmt.Errorf("sync failed: %w", st.Err)
	}
	return nil
}
