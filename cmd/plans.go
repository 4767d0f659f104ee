// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/journal"
	"github.com/toolup-org/toolup/internal/state"
)

func NewPlansCmd() *cobra.Command {
	var jsonOut bool
	c := &cobra.Command{
		Use:   "plans",
		Short: "List persisted plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.NewStore("")
			states, err := store.List()
			if err != nil {
				return err
			}
			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(states)
			}
			if len(states) == 0 {
				fmt.Println("(no plans)")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PLAN\tTOOL\tSTATUS\tDONE\tFAILED\tUPDATED")
			for _, st := range states {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					st.PlanID, st.Tool, st.Status,
					len(st.CompletedSteps), len(st.Steps), len(st.FailedSteps),
					st.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	c.Flags().BoolVar(&jsonOut, "json", false, "Output plans as JSON")

	c.AddCommand(newPlansEventsCmd())
	c.AddCommand(newPlansCancelCmd())
	c.AddCommand(newPlansArchiveCmd())
	return c
}

func newPlansEventsCmd() *cobra.Command {
	var afterSeq int64
	c := &cobra.Command{
		Use:   "events <plan-id>",
		Short: "Show the recorded event journal for a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.Open(cmd.Context(), journal.Options{})
			if err != nil {
				return err
			}
			defer j.Close()
			return j.ForEach(cmd.Context(), args[0], afterSeq, func(e journal.Entry) error {
				fmt.Printf("[%d] %s %s %s\n",
					e.Seq, e.Timestamp.Format(time.RFC3339), e.EventType, string(e.Payload))
				return nil
			})
		},
	}
	c.Flags().Int64Var(&afterSeq, "after", 0, "Only show events after this sequence")
	return c
}

func newPlansCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <plan-id>",
		Short: "Mark a plan cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.NewStore("").Cancel(args[0])
		},
	}
}

func newPlansArchiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive <plan-id>",
		Short: "Move a finished plan into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return state.NewStore("").Archive(args[0])
		},
	}
}
