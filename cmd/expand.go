package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/magnetar/internal/model"
	"github.com/papapumpkin/magnetar/internal/request"
)

var expandCmd = &cobra.Command{
	Use:   "expand",
	Short: "Expand a request action template into concrete actions",
	Long: "Expand takes one action template (from flags, or all actions of a\n" +
		"fixture request via --request) and resolves it against the project\n" +
		"graph: wildcard sources fan out per package, links are unwound,\n" +
		"release targets are rerouted and no-op actions are dropped.",
	RunE: runExpand,
}

func init() {
	f := expandCmd.Flags()
	f.String("type", "submit", "action type: submit, release, maintenance_incident or maintenance_release")
	f.String("source-project", "", "source project")
	f.String("source-package", "", "source package, empty means every package of the project")
	f.String("source-rev", "", "source revision")
	f.String("target-project", "", "target project")
	f.String("target-package", "", "target package")
	f.String("target-releaseproject", "", "release target project")
	f.Int64("request", 0, "expand the actions of this fixture request instead")
	f.Bool("ignore-build-state", false, "skip the release gate checks")
	f.Bool("ignore-delegate", false, "do not follow request delegation")

	rootCmd.AddCommand(expandCmd)
}

func runExpand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	f := cmd.Flags()
	opts := request.Options{Telemetry: e.tele}
	opts.IgnoreBuildState, _ = f.GetBool("ignore-build-state")
	opts.IgnoreDelegate, _ = f.GetBool("ignore-delegate")

	var templates []model.RequestAction
	if number, _ := f.GetInt64("request"); number != 0 {
		if e.fixture == nil {
			return fmt.Errorf("request %d: no fixture configured to look it up in", number)
		}
		req := e.fixture.Request(number)
		if req == nil {
			return fmt.Errorf("request %d not found", number)
		}
		templates = req.Actions
	} else {
		action, err := actionFromFlags(cmd)
		if err != nil {
			return err
		}
		templates = []model.RequestAction{action}
	}

	var expanded []model.RequestAction
	for _, action := range templates {
		got, err := request.Expand(ctx, e.store, e.backend, action, opts)
		if err != nil {
			return err
		}
		expanded = append(expanded, got...)
	}

	out, err := json.MarshalIndent(expanded, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func actionFromFlags(cmd *cobra.Command) (model.RequestAction, error) {
	f := cmd.Flags()
	var a model.RequestAction
	t, _ := f.GetString("type")
	switch model.ActionType(t) {
	case model.ActionSubmit, model.ActionRelease,
		model.ActionMaintenanceIncident, model.ActionMaintenanceRelease:
		a.Type = model.ActionType(t)
	default:
		return a, fmt.Errorf("unknown action type %q", t)
	}
	a.SourceProject, _ = f.GetString("source-project")
	a.SourcePackage, _ = f.GetString("source-package")
	a.SourceRev, _ = f.GetString("source-rev")
	a.TargetProject, _ = f.GetString("target-project")
	a.TargetPackage, _ = f.GetString("target-package")
	a.TargetReleaseProject, _ = f.GetString("target-releaseproject")
	if a.SourceProject == "" {
		return a, fmt.Errorf("--source-project is required")
	}
	return a, nil
}
