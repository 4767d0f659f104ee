// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/executor"
	"github.com/toolup-org/toolup/internal/rollback"
	"github.com/toolup-org/toolup/internal/state"
	"github.com/toolup-org/toolup/internal/types"
)

func NewRollbackCmd() *cobra.Command {
	var profilePath, sudoPassword string
	var yes, jsonOut bool
	c := &cobra.Command{
		Use:   "rollback <plan-id>",
		Short: "Undo the completed steps of a plan, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := state.NewStore("")
			st, err := store.Load(args[0])
			if err != nil {
				return err
			}
			steps := rollback.Generate(st)
			if len(steps) == 0 {
				fmt.Println("nothing to roll back")
				return nil
			}

			if !yes {
				fmt.Printf("Rolling back %d step(s) of plan %s:\n", len(steps), st.PlanID)
				for _, s := range steps {
					fmt.Printf("  - %s: %s\n", s.ID, s.Command)
				}
				fmt.Printf("Proceed? [y/N]: ")
				line, err := readLine()
				if err != nil {
					return err
				}
				if !strings.EqualFold(line, "y") && !strings.EqualFold(line, "yes") {
					return fmt.Errorf("aborted")
				}
			}

			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}
			x := executor.New(profile)
			x.Sink = events.NewEmitter(os.Stdout, jsonOut)
			x.PlanID = st.PlanID
			x.SudoPassword = sudoPassword
			if sudoPassword != "" {
				x.Redactor = events.NewLineRedactor([]string{sudoPassword})
			}

			rbErr := rollback.Execute(cmd.Context(), x, steps)

			st.Status = types.StatusCancelled
			st.UpdatedAt = time.Now().UTC()
			if err := store.Save(st); err != nil {
				return err
			}
			return rbErr
		},
	}
	c.Flags().StringVar(&profilePath, "profile", "", "Read the system profile from a JSON file instead of probing")
	c.Flags().StringVar(&sudoPassword, "sudo-password", "", "Password for elevated steps (never persisted)")
	c.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	c.Flags().BoolVar(&jsonOut, "json", false, "Emit machine-readable JSON")
	return c
}
