package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/tui"
)

var godspecCmd = &cobra.Command{
	Use:   "godspec <doc>",
	Short: "Check whether a spec covers too much and propose a split",
	Long: `Detect god specs: documents too large, spanning too many feature domains, or lacking
a clear definition of done. With --split a proposal groups sections into smaller specs;
--write creates those files next to the original and links their sessions to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runGodSpec,
}

var (
	godspecSplit     bool
	godspecWrite     bool
	godspecOverwrite bool
	godspecFormat    string
)

func init() {
	godspecCmd.Flags().BoolVar(&godspecSplit, "split", false, "include a split proposal")
	godspecCmd.Flags().BoolVar(&godspecWrite, "write", false, "write the proposed specs (implies --split)")
	godspecCmd.Flags().BoolVar(&godspecOverwrite, "overwrite", false, "replace proposed files that already exist")
	godspecCmd.Flags().StringVar(&godspecFormat, "format", formatText, "output format: text, json, or yaml")

	rootCmd.AddCommand(godspecCmd)
}

func runGodSpec(cmd *cobra.Command, args []string) error {
	if err := validateFormat(godspecFormat); err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.close(ctx)

	report, err := a.svc.GodSpec(args[0], godspecSplit, godspecWrite, godspecOverwrite)
	if report == nil {
		return err
	}
	if godspecFormat == formatText {
		tui.NewView(cmd.OutOrStdout()).GodSpec(report.Indicators, report.Proposal, report.Written)
	} else if werr := writeStructured(cmd.OutOrStdout(), godspecFormat, report); werr != nil {
		return werr
	}
	return err
}
