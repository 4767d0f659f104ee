// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/state"
)

func NewResumeCmd() *cobra.Command {
	var profilePath, sudoPassword string
	var jsonOut bool
	c := &cobra.Command{
		Use:   "resume <plan-id>",
		Short: "Resume a paused or failed plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.NewStore("")
			st, err := store.Load(args[0])
			if err != nil {
				return err
			}
			plan, err := state.ResumePlan(st)
			if err != nil {
				return err
			}

			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}

			st.FailedSteps = nil
			st.PauseReason = ""
			return executePlan(cmd.Context(), plan, st, profile, sudoPassword, jsonOut)
		},
	}
	c.Flags().StringVar(&profilePath, "profile", "", "Read the system profile from a JSON file instead of probing")
	c.Flags().StringVar(&sudoPassword, "sudo-password", "", "Password for elevated steps (never persisted)")
	c.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return c
}
