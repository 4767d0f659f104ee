// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolup-org/toolup/internal/cache"
	"github.com/toolup-org/toolup/internal/choices"
	"github.com/toolup-org/toolup/internal/events"
	"github.com/toolup-org/toolup/internal/executor"
	"github.com/toolup-org/toolup/internal/journal"
	"github.com/toolup-org/toolup/internal/paths"
	"github.com/toolup-org/toolup/internal/planner"
	"github.com/toolup-org/toolup/internal/probe"
	"github.com/toolup-org/toolup/internal/recipe"
	"github.com/toolup-org/toolup/internal/scheduler"
	"github.com/toolup-org/toolup/internal/state"
	"github.com/toolup-org/toolup/internal/sysprofile"
	"github.com/toolup-org/toolup/internal/types"
)

type installFlags struct {
	recipesDir   string
	profilePath  string
	selections   map[string]string
	inputs       map[string]string
	list         bool
	dryRun       bool
	jsonOut      bool
	yes          bool
	offline      bool
	sudoPassword string
}

func NewInstallCmd() *cobra.Command {
	var flags installFlags
	c := &cobra.Command{
		Use:   "install <tool>",
		Short: "Resolve and run the install plan for a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd.Context(), args[0], flags)
		},
	}
	c.Flags().StringVar(&flags.recipesDir, "recipes", "", "Recipe catalog directory")
	c.Flags().StringVar(&flags.profilePath, "profile", "", "Read the system profile from a JSON file instead of probing")
	c.Flags().StringToStringVar(&flags.selections, "choice", nil, "Select a choice option (choice=option, repeatable)")
	c.Flags().StringToStringVar(&flags.inputs, "input", nil, "Supply an input value (name=value, repeatable)")
	c.Flags().BoolVar(&flags.list, "list", false, "Show resolved choices and inputs, then exit")
	c.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Print the plan without executing it")
	c.Flags().BoolVar(&flags.jsonOut, "json", false, "Emit machine-readable JSON")
	c.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Skip confirmation gates")
	c.Flags().BoolVar(&flags.offline, "offline", false, "Rewrite the plan to use cached artifacts")
	c.Flags().StringVar(&flags.sudoPassword, "sudo-password", "", "Password for elevated steps (never persisted)")
	return c
}

func runInstall(ctx context.Context, tool string, flags installFlags) error {
	reg, err := loadRegistry(flags.recipesDir)
	if err != nil {
		return err
	}
	profile, err := loadProfile(flags.profilePath)
	if err != nil {
		return err
	}

	base, ok := reg.Get(tool)
	if !ok {
		return &planner.NoRecipeError{Tool: tool}
	}
	resolver := choices.NewResolver()
	resolver.Sink = events.NewEmitter(os.Stderr, flags.jsonOut)
	resolution, err := resolver.Resolve(ctx, base, profile)
	if err != nil {
		return err
	}

	if flags.list {
		return printResolution(resolution, flags.jsonOut)
	}

	selections := make(map[string]string, len(resolution.Defaults))
	inputs := make(map[string]string)
	for _, rc := range resolution.Choices {
		if rc.Selected != "" {
			selections[rc.ID] = rc.Selected
		}
	}
	for _, in := range resolution.Inputs {
		if in.Default != "" {
			inputs[in.Name] = in.Default
		}
	}
	for k, v := range flags.selections {
		selections[k] = v
	}
	for k, v := range flags.inputs {
		inputs[k] = v
	}
	if missing := missingInputs(resolution.Inputs, inputs); len(missing) > 0 {
		return fmt.Errorf("missing required input(s): %s (supply with --input name=value)", strings.Join(missing, ", "))
	}

	pl := planner.New(reg, profile)
	plan, err := pl.ResolvePlan(tool, planner.Options{Selections: selections, Inputs: inputs})
	if err != nil {
		return err
	}

	if plan.AlreadyInstalled {
		if flags.jsonOut {
			return json.NewEncoder(os.Stdout).Encode(plan)
		}
		fmt.Printf("%s is already installed; nothing to do\n", tool)
		return nil
	}

	if flags.offline {
		plan = cache.New("").Rewrite(plan)
	}

	if flags.dryRun {
		return printPlan(plan, flags.jsonOut)
	}

	if !flags.yes {
		if err := confirmGate(plan); err != nil {
			return err
		}
	}

	if plan.NeedsSudo && !profile.IsRoot && flags.sudoPassword == "" {
		return fmt.Errorf("plan contains elevated steps; supply --sudo-password or run as root")
	}

	st := &types.PlanState{
		PlanID:       plan.ID,
		Tool:         plan.Tool,
		Status:       types.StatusRunning,
		Steps:        plan.Steps,
		Inputs:       inputs,
		SecretInputs: secretInputNames(resolution.Inputs),
		CreatedAt:    time.Now().UTC(),
	}
	return executePlan(ctx, plan, st, profile, flags.sudoPassword, flags.jsonOut)
}

// executePlan wires the sinks, state store and executor around the scheduler.
// It is shared with resume.
func executePlan(ctx context.Context, plan *types.Plan, st *types.PlanState, profile *sysprofile.Profile, sudoPassword string, jsonOut bool) error {
	store := state.NewStore("")
	release, err := store.AcquireLock(plan.ID)
	if err != nil {
		return err
	}
	defer release()

	var sinks []events.Sink
	if em := events.NewEmitter(os.Stdout, jsonOut); em != nil {
		sinks = append(sinks, em)
	}
	jctx, jcancel := context.WithTimeout(ctx, 10*time.Second)
	j, jerr := journal.Open(jctx, journal.Options{})
	jcancel()
	if jerr != nil {
		slog.Warn("event journal unavailable; continuing without it", "error", jerr)
	} else {
		defer j.Close()
		if js := journal.NewSink(j); js != nil {
			sinks = append(sinks, js)
		}
	}
	sink := events.NewCompositeSink(sinks...)

	secretValues := make([]string, 0, len(st.SecretInputs)+1)
	for _, name := range st.SecretInputs {
		if v := st.Inputs[name]; v != "" {
			secretValues = append(secretValues, v)
		}
	}
	if sudoPassword != "" {
		secretValues = append(secretValues, sudoPassword)
	}

	x := executor.New(profile)
	x.Sink = sink
	x.PlanID = plan.ID
	x.SudoPassword = sudoPassword
	x.Redactor = events.NewLineRedactor(secretValues)

	sched := scheduler.New(x, store, sink)
	if err := sched.Run(ctx, plan, st); err != nil {
		return err
	}
	if st.Status == types.StatusFailed {
		return fmt.Errorf("plan %s failed (%d step(s)); inspect with 'toolup plans events %s'",
			plan.ID, len(st.FailedSteps), plan.ID)
	}
	return nil
}

// confirmGate enforces the plan's confirmation policy on the terminal. A
// double gate requires the tool name typed back.
func confirmGate(plan *types.Plan) error {
	switch plan.Gate.Type {
	case types.GateNone:
		return nil
	case types.GateSingle:
		printPlanSummary(plan)
		fmt.Printf("Proceed? [y/N]: ")
		line, err := readLine()
		if err != nil {
			return err
		}
		if !strings.EqualFold(line, "y") && !strings.EqualFold(line, "yes") {
			return fmt.Errorf("aborted")
		}
		return nil
	case types.GateDouble:
		printPlanSummary(plan)
		fmt.Println("This plan contains HIGH RISK steps:")
		for _, d := range plan.Gate.Details {
			fmt.Printf("  - %s: %s\n", d.StepID, d.Description)
			if d.Rollback != "" {
				fmt.Printf("    rollback: %s\n", d.Rollback)
			}
			if len(d.BackupTargets) > 0 {
				fmt.Printf("    backups: %s\n", strings.Join(d.BackupTargets, ", "))
			}
		}
		fmt.Printf("Type the tool name (%s) to continue: ", plan.Tool)
		line, err := readLine()
		if err != nil {
			return err
		}
		if line != plan.Tool {
			return fmt.Errorf("confirmation mismatch; aborted")
		}
		return nil
	default:
		return fmt.Errorf("unknown confirmation gate %q", plan.Gate.Type)
	}
}

func readLine() (string, error) {
	sc := bufio.NewScanner(os.Stdin)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("aborted")
	}
	return strings.TrimSpace(sc.Text()), nil
}

func printPlanSummary(plan *types.Plan) {
	fmt.Printf("Plan %s: %s (%d step(s), risk %s", plan.ID, plan.Label, len(plan.Steps), plan.RiskSummary.Level)
	if plan.RiskSummary.Escalated {
		fmt.Printf(", escalated: %s", plan.RiskSummary.EscalationReason)
	}
	fmt.Println(")")
	if plan.Warning != "" {
		fmt.Println("Warning:", plan.Warning)
	}
}

func printPlan(plan *types.Plan, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	printPlanSummary(plan)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tTYPE\tRISK\tSUDO\tDEPENDS ON\tLABEL")
	for _, s := range plan.Steps {
		sudo := ""
		if s.NeedsSudo {
			sudo = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.Type, s.Risk, sudo, strings.Join(s.DependsOn, ","), s.Label)
	}
	return tw.Flush()
}

func printResolution(res *choices.Resolution, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	for _, rc := range res.Choices {
		fmt.Printf("%s (%s)", rc.ID, rc.Label)
		if rc.AutoSelected {
			fmt.Printf(" [auto: %s]", rc.Selected)
		} else if rc.Selected != "" {
			fmt.Printf(" [default: %s]", rc.Selected)
		}
		fmt.Println()
		for _, ro := range rc.Options {
			mark := "x"
			if !ro.Available {
				mark = " "
			}
			fmt.Printf("  [%s] %s", mark, ro.Option.ID)
			if ro.DisabledReason != "" {
				fmt.Printf(" (%s)", ro.DisabledReason)
			}
			if !ro.Available && ro.EnableHint != "" {
				fmt.Printf(" hint: %s", ro.EnableHint)
			}
			fmt.Println()
		}
		for _, v := range rc.Versions {
			fmt.Printf("  version %s", v.Value)
			if v.Warning != "" {
				fmt.Printf(" (%s)", v.Warning)
			}
			fmt.Println()
		}
	}
	for _, in := range res.Inputs {
		req := ""
		if in.Required {
			req = " (required)"
		}
		fmt.Printf("input %s: %s%s\n", in.Name, in.Type, req)
	}
	if res.AutoResolve {
		fmt.Println("all choices auto-resolve; no interaction needed")
	}
	return nil
}

func missingInputs(fields []recipe.InputField, inputs map[string]string) []string {
	var missing []string
	for _, f := range fields {
		if f.Required && inputs[f.Name] == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func secretInputNames(fields []recipe.InputField) []string {
	var out []string
	for _, f := range fields {
		if f.Type == "password" {
			out = append(out, f.Name)
		}
	}
	return out
}

func loadRegistry(dir string) (*recipe.Registry, error) {
	if dir == "" {
		dir = paths.RecipesDir()
	}
	return recipe.LoadDir(dir)
}

func loadProfile(path string) (*sysprofile.Profile, error) {
	if path != "" {
		return sysprofile.LoadFile(path)
	}
	return probe.Detect(), nil
}
