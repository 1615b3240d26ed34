package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/papapumpkin/magnetar/internal/branch"
	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/resolver"
	"github.com/papapumpkin/magnetar/internal/store"
)

var branchCmd = &cobra.Command{
	Use:   "branch",
	Short: "Compute and materialize a branch plan",
	Long: "Branch resolves a source spec (project/package, request number, or\n" +
		"attribute search) into a branch plan and materializes it into the target\n" +
		"project. With --dry-run the plan is reported as XML instead.",
	RunE: runBranch,
}

func init() {
	f := branchCmd.Flags()
	f.String("project", "", "source project")
	f.String("package", "", "source package")
	f.Int64("request", 0, "branch the sources of an existing request")
	f.String("attribute", "", "attribute search, NAMESPACE:NAME (default OBS:Maintained)")
	f.String("value", "", "restrict attribute search to this value")
	f.String("update-project-attribute", "", "update-project attribute override")
	f.String("target-project", "", "target project name")
	f.String("target-package", "", "target package name")
	f.String("rev", "", "pin the source revision")
	f.Bool("missingok", false, "branch a package that does not exist yet")
	f.Bool("noservice", false, "suppress source services")
	f.Bool("ignoredevel", false, "skip devel/update/incident resolution")
	f.Bool("newinstance", false, "create a new instance in the requested project")
	f.Bool("maintenance", false, "maintenance branch (extends names, copies from devel, adds repositories)")
	f.Bool("extend-package-names", false, "append the link-target project to names")
	f.Bool("copy-from-devel", false, "layer devel sources on top of the branch")
	f.Bool("add-repositories", false, "mirror link-target repositories")
	f.Bool("update-path-elements", false, "rewrite repository paths after branching")
	f.Bool("noaccess", false, "create the target project hidden")
	f.Bool("force", false, "overwrite existing branch target packages")
	f.Bool("dry-run", false, "report the plan without materializing")
	f.String("add-repositories-rebuild", "", "rebuild policy: transitive, direct, local or copy")
	f.String("add-repositories-block", "", "block policy: all, local or never")
	f.Bool("watch", false, "with --dry-run, re-plan whenever the fixture changes")

	rootCmd.AddCommand(branchCmd)
}

// branchPolicy assembles the resolution policy from flags.
func branchPolicy(cmd *cobra.Command, e *env) (resolver.Policy, error) {
	f := cmd.Flags()
	pol := resolver.Policy{}
	pol.Project, _ = f.GetString("project")
	pol.Package, _ = f.GetString("package")
	pol.Value, _ = f.GetString("value")
	pol.TargetProject, _ = f.GetString("target-project")
	pol.TargetPackage, _ = f.GetString("target-package")
	pol.Rev, _ = f.GetString("rev")
	pol.MissingOK, _ = f.GetBool("missingok")
	pol.NoService, _ = f.GetBool("noservice")
	pol.IgnoreDevel, _ = f.GetBool("ignoredevel")
	pol.NewInstance, _ = f.GetBool("newinstance")
	pol.Maintenance, _ = f.GetBool("maintenance")
	pol.ExtendNames, _ = f.GetBool("extend-package-names")
	pol.CopyFromDevel, _ = f.GetBool("copy-from-devel")
	pol.AddRepositories, _ = f.GetBool("add-repositories")
	pol.UpdatePathElements, _ = f.GetBool("update-path-elements")
	pol.NoAccess, _ = f.GetBool("noaccess")
	pol.Force, _ = f.GetBool("force")
	pol.DryRun, _ = f.GetBool("dry-run")
	pol.AutoCleanupDays = e.cfg.AutoCleanupDays

	if s, _ := f.GetString("attribute"); s != "" {
		at, err := model.ParseAttributeName(s)
		if err != nil {
			return pol, err
		}
		pol.Attribute = at
	}
	if s, _ := f.GetString("update-project-attribute"); s != "" {
		at, err := model.ParseAttributeName(s)
		if err != nil {
			return pol, err
		}
		pol.UpdateAttribute = at
	}
	if s, _ := f.GetString("add-repositories-rebuild"); s != "" {
		rb, err := model.ParseRebuildPolicy(s)
		if err != nil {
			return pol, err
		}
		pol.Rebuild = rb
	}
	if s, _ := f.GetString("add-repositories-block"); s != "" {
		bl, err := model.ParseBlockPolicy(s)
		if err != nil {
			return pol, err
		}
		pol.Block = bl
	}
	if number, _ := f.GetInt64("request"); number != 0 {
		if e.fixture == nil {
			return pol, fmt.Errorf("request %d: no fixture configured to look it up in", number)
		}
		req := e.fixture.Request(number)
		if req == nil {
			return pol, fmt.Errorf("request %d not found", number)
		}
		pol.Request = req
	}
	return pol, nil
}

func runBranch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	pol, err := branchPolicy(cmd, e)
	if err != nil {
		return err
	}
	opts := branch.Options{Policy: pol, Principal: e.cfg.Principal, Telemetry: e.tele}

	if watch, _ := cmd.Flags().GetBool("watch"); watch {
		return watchBranch(ctx, e, opts)
	}

	plan, err := branch.BuildPlan(ctx, e.store, e.backend, opts)
	if err != nil {
		return err
	}

	if pol.DryRun {
		report, err := plan.DryRunReport()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), report.Text)
		return nil
	}

	result, err := branch.Materialize(ctx, e.store, e.backend, plan, opts)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// watchBranch re-plans whenever the fixture file changes and prints the
// fresh dry-run report. Materialization is never triggered from watch
// mode.
func watchBranch(ctx context.Context, e *env, opts branch.Options) error {
	if e.cfg.FixturePath == "" {
		return fmt.Errorf("--watch needs a fixture to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(e.cfg.FixturePath); err != nil {
		return fmt.Errorf("watch %s: %w", e.cfg.FixturePath, err)
	}

	replan := func() {
		f, err := loadAndApply(ctx, e)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		e.fixture = f
		plan, err := branch.BuildPlan(ctx, e.store, e.backend, opts)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		report, err := plan.DryRunReport()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}
		fmt.Print(report.Text)
	}
	replan()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sigc:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				replan()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(os.Stderr, "watch:", err)
		}
	}
}

func loadAndApply(ctx context.Context, e *env) (*store.Fixture, error) {
	f, err := store.LoadFixture(e.cfg.FixturePath)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(ctx, e.store, e.backend); err != nil {
		return nil, err
	}
	return f, nil
}
