// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/cache"
	"github.com/toolup-org/toolup/internal/planner"
)

func NewCacheCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline artifact cache",
	}
	c.AddCommand(newCachePrefetchCmd())
	c.AddCommand(newCachePurgeCmd())
	return c
}

func newCachePrefetchCmd() *cobra.Command {
	var recipesDir, profilePath string
	var selections map[string]string
	c := &cobra.Command{
		Use:   "prefetch <tool>",
		Short: "Download a tool's plan artifacts for later offline use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(recipesDir)
			if err != nil {
				return err
			}
			profile, err := loadProfile(profilePath)
			if err != nil {
				return err
			}
			plan, err := planner.New(reg, profile).ResolvePlan(args[0], planner.Options{Selections: selections})
			if err != nil {
				return err
			}
			if plan.AlreadyInstalled {
				fmt.Printf("%s is already installed; nothing to prefetch\n", args[0])
				return nil
			}
			n, err := cache.New("").Prefetch(cmd.Context(), plan)
			if err != nil {
				return err
			}
			fmt.Printf("prefetched %d artifact(s)\n", n)
			return nil
		},
	}
	c.Flags().StringVar(&recipesDir, "recipes", "", "Recipe catalog directory")
	c.Flags().StringVar(&profilePath, "profile", "", "Read the system profile from a JSON file instead of probing")
	c.Flags().StringToStringVar(&selections, "choice", nil, "Select a choice option (choice=option, repeatable)")
	return c
}

func newCachePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := cache.New("").Purge()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d artifact(s)\n", n)
			return nil
		},
	}
}
