// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/paths"
)

var rootCmd = &cobra.Command{
	Use:   "toolup",
	Short: "Plan and run developer tool installations",
	Long: `toolup resolves a tool recipe against the running system into an ordered
install plan, shows what the plan will do and at what risk, and executes
it step by step with resumable state.`,
}

func Execute() {
	var dataDir string
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the toolup data directory")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if dataDir != "" {
			paths.SetDataDirOverride(dataDir)
		}
	}

	rootCmd.AddCommand(NewInstallCmd())
	rootCmd.AddCommand(NewPlansCmd())
	rootCmd.AddCommand(NewResumeCmd())
	rootCmd.AddCommand(NewRollbackCmd())
	rootCmd.AddCommand(NewCacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
