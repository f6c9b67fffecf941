package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"rip-sage/internal/config"
	"rip-sage/internal/grave"
	"rip-sage/internal/graveyard"
	"rip-sage/internal/scheduler"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "rip [flags] TARGET...",
		Short: "Remove files by burying them in a graveyard",
		Long: `rip moves its targets into a graveyard directory and records where they
came from, so they can be restored with "rip unbury".

The graveyard is taken from --graveyard, then $RIP_GRAVEYARD, then the
configuration file, then $XDG_DATA_HOME/graveyard.`,
		Args:          usageArgs(cobra.MinimumNArgs(1)),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
		RunE: a.runBury,
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", errInvalidUsage, err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to the configuration file (default "+config.DefaultPath()+")")
	pf.StringVar(&a.graveyardFlag, "graveyard", "", "graveyard directory")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.Flags().BoolVarP(&a.force, "force", "f", false, "do not ask before unlinking targets already in the graveyard")
	root.Flags().BoolVarP(&a.inspect, "inspect", "i", false, "show each target and ask before burying it")

	root.AddCommand(
		newUnburyCmd(a),
		newSeanceCmd(a),
		newPruneCmd(a),
		newUnlinkCmd(a),
		newDecomposeCmd(a),
		newReapCmd(a),
		newGraveyardCmd(a),
	)
	return root
}

func newUnburyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unbury [TARGET...]",
		Short: "Restore buried files",
		Long: `Restore each TARGET, given as its original path or as its path inside the
graveyard. Without targets the most recently buried item is restored. With
--seance everything buried from the current directory (or the one given)
is restored.`,
		RunE: a.runUnbury,
	}
	cmd.Flags().BoolVarP(&a.seance, "seance", "s", false, "restore everything buried from the directory")
	return cmd
}

func newSeanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seance [DIR]",
		Short: "List what was buried from a directory",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE:  a.runSeance,
	}
	cmd.Flags().BoolVarP(&a.all, "all", "a", false, "list the whole graveyard")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop record entries whose graves no longer exist",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.g.Prune(cmd.Context(), graveyard.All())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Pruned %d stale %s\n", len(removed), plural(len(removed), "entry", "entries"))
			return nil
		},
	}
}

func newUnlinkCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink PATH...",
		Short: "Permanently delete paths inside the graveyard",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			var errs []error
			for _, p := range args {
				if !a.force && !a.confirm(fmt.Sprintf("Permanently delete %s?", p)) {
					continue
				}
				errs = append(errs, a.g.Unlink(cmd.Context(), p))
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVarP(&a.force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func newDecomposeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decompose",
		Short: "Permanently delete the whole graveyard",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.force && !a.confirm(fmt.Sprintf("Permanently delete everything in %s?", a.g.Root())) {
				fmt.Fprintln(a.stdout, "Nothing deleted")
				return nil
			}
			return a.g.Decompose(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&a.force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func newReapCmd(a *app) *cobra.Command {
	var (
		days        int
		usedPercent float64
	)
	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Permanently delete old graves per the retention policy",
		Long: "Permanently delete graves buried more than --days ago, then the oldest graves\n" +
			"while the graveyard filesystem is fuller than --used-percent. Both default to\n" +
			"the retention section of the configuration.",
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := graveyard.ReapPolicy{
				MaxAge:         a.cfg.Retention.MaxAge(),
				MaxUsedPercent: a.cfg.Retention.MaxUsedPercent,
			}
			if cmd.Flags().Changed("days") {
				if days < 0 {
					return fmt.Errorf("%w: --days cannot be negative", errInvalidUsage)
				}
				policy.MaxAge = time.Duration(days) * 24 * time.Hour
			}
			if cmd.Flags().Changed("used-percent") {
				if usedPercent < 0 || usedPercent > 100 {
					return fmt.Errorf("%w: --used-percent must be between 0 and 100", errInvalidUsage)
				}
				policy.MaxUsedPercent = usedPercent
			}
			if policy.MaxAge == 0 && policy.MaxUsedPercent == 0 {
				return fmt.Errorf("%w: nothing to reap: pass --days or --used-percent, or configure retention", errInvalidUsage)
			}

			if !a.force && !a.confirm(fmt.Sprintf("Permanently delete %s from %s?", describePolicy(policy), a.g.Root())) {
				fmt.Fprintln(a.stdout, "Nothing deleted")
				return nil
			}

			sum, err := scheduler.RunOnce(cmd.Context(), a.g, policy, a.log)
			if sum.Reaped > 0 || err == nil {
				fmt.Fprintf(a.stdout, "Reaped %d %s, %s freed\n", sum.Reaped, plural(sum.Reaped, "grave", "graves"), humanize.IBytes(uint64(sum.Freed)))
			}
			return err
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "reap graves buried more than this many days ago")
	cmd.Flags().Float64Var(&usedPercent, "used-percent", 0, "reap oldest graves while the filesystem is at least this full")
	cmd.Flags().BoolVarP(&a.force, "force", "f", false, "do not ask for confirmation")
	return cmd
}

func describePolicy(p graveyard.ReapPolicy) string {
	var parts []string
	if p.MaxAge > 0 {
		parts = append(parts, fmt.Sprintf("graves older than %d days", int(p.MaxAge/(24*time.Hour))))
	}
	if p.MaxUsedPercent > 0 {
		parts = append(parts, fmt.Sprintf("the oldest graves while the disk is over %g%% full", p.MaxUsedPercent))
	}
	return strings.Join(parts, " and ")
}

func newGraveyardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graveyard",
		Short: "Print the graveyard directory",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(a.stdout, a.g.Root())
			return nil
		},
	}
}

func (a *app) runBury(cmd *cobra.Command, targets []string) error {
	var errs []error
	for _, t := range targets {
		errs = append(errs, a.buryOne(cmd, t))
	}
	return errors.Join(errs...)
}

func (a *app) buryOne(cmd *cobra.Command, target string) error {
	ctx := cmd.Context()

	// a target already in the graveyard can only go for good
	if p, err := grave.Canonicalize(target); err == nil && p.Within(a.g.Root()) && !p.Equal(a.g.Root()) {
		if !a.force && !a.confirm(fmt.Sprintf("%s is already in the graveyard. Permanently unlink it?", p)) {
			return nil
		}
		return a.g.Unlink(ctx, target)
	}

	if a.inspect {
		if _, err := os.Lstat(target); err == nil {
			a.describe(target)
			if !a.confirm("Send to the graveyard?") {
				return nil
			}
		}
	}
	info, err := a.g.Bury(ctx, target)
	if err != nil && !errors.Is(err, graveyard.ErrPartialBury) {
		return err
	}
	if a.verbose && info.Grave != "" {
		fmt.Fprintf(a.stdout, "Buried %s as %s\n", info.Original, info.Grave)
	}
	return err
}

func (a *app) runUnbury(cmd *cobra.Command, targets []string) error {
	ctx := cmd.Context()

	if a.seance {
		if len(targets) > 1 {
			return fmt.Errorf("%w: --seance takes at most one directory", errInvalidUsage)
		}
		dir, err := seanceDir(targets)
		if err != nil {
			return err
		}
		restored, err := a.g.ExhumeAll(ctx, graveyard.Under(dir))
		for _, r := range restored {
			a.printRestored(r)
		}
		return err
	}

	if len(targets) == 0 {
		r, err := a.g.Exhume(ctx, graveyard.All())
		if err != nil {
			return err
		}
		a.printRestored(r)
		return nil
	}

	var errs []error
	for _, t := range targets {
		p, err := grave.Canonicalize(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r, err := a.g.Exhume(ctx, graveyard.Target(p))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		a.printRestored(r)
	}
	return errors.Join(errs...)
}

func (a *app) printRestored(r graveyard.RestoredInfo) {
	fmt.Fprintf(a.stdout, "Returned %s to %s\n", r.Grave, r.Original)
}

func (a *app) runSeance(cmd *cobra.Command, args []string) error {
	pred := graveyard.All()
	dir := a.g.Root()
	if !a.all {
		d, err := seanceDir(args)
		if err != nil {
			return err
		}
		dir = d
		pred = graveyard.Under(d)
	}

	graves, err := a.g.List(cmd.Context(), pred)
	if err != nil {
		return err
	}
	if len(graves) == 0 {
		fmt.Fprintf(a.stdout, "Nothing buried from %s\n", dir)
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BURIED\tSIZE\tORIGINAL\tGRAVE")
	for _, gr := range graves {
		size := "?"
		if gr.Size >= 0 {
			size = humanize.IBytes(uint64(gr.Size))
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			gr.Time.Local().Format("2006-01-02 15:04:05"), size, gr.Original, gr.Grave)
	}
	return w.Flush()
}

// seanceDir is the directory named in args, or the working directory.
func seanceDir(args []string) (grave.Path, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	// the directory itself may have been buried, so it need not exist
	return grave.Canonicalize(dir)
}

func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", errInvalidUsage, err)
		}
		return nil
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
