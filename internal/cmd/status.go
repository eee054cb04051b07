package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/health"
	"github.com/felixgeelhaar/specforge/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show dependency health and the state of every spec",
	Long: `Display an overview of the project: whether the assistant, the workspace, and the task
id sequence are usable, then every spec with its lifecycle status, last verdict, open
suggestions, and task count.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusFormat string

// StatusReport is the structured form of 'specforge status'
type StatusReport struct {
	Timestamp time.Time                 `json:"timestamp"`
	Healthy   bool                      `json:"healthy"`
	Checks    map[string]*health.Result `json:"checks"`
	Specs     []tui.SpecRow             `json:"specs"`
}

func init() {
	statusCmd.Flags().StringVar(&statusFormat, "format", formatText, "output format: text, json, or yaml")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := validateFormat(statusFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{needSequence: true})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	report, err := a.status(cmd)
	if err != nil {
		return err
	}
	if statusFormat != formatText {
		return writeStructured(cmd.OutOrStdout(), statusFormat, report)
	}
	tui.NewView(cmd.OutOrStdout()).Status(report.Checks, report.Specs)
	return nil
}

func (a *app) status(cmd *cobra.Command) (*StatusReport, error) {
	checks := a.healthManager().Check(cmd.Context())
	report := &StatusReport{
		Timestamp: time.Now().UTC(),
		Healthy:   health.Overall(checks) != health.StatusUnhealthy,
		Checks:    checks,
		Specs:     []tui.SpecRow{},
	}

	names, err := a.store.Names()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		md, err := a.store.LoadMetadata(name)
		if err != nil {
			a.logger.WithError(err).Warn("skipping spec without metadata", "spec", name)
			continue
		}
		row := tui.SpecRow{Metadata: *md}
		f, err := a.svc.Sessions().Load(name)
		switch {
		case err == nil:
			row.Pending = len(f.Pending())
		case errors.CodeOf(err) != errors.ErrCodeFileNotFound:
			return nil, err
		}
		list, err := a.store.LoadTasks(name)
		if err != nil {
			return nil, err
		}
		if list != nil {
			row.Tasks = len(list.Tasks)
		}
		report.Specs = append(report.Specs, row)
	}
	return report, nil
}
