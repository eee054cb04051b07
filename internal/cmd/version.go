package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/tui"
	"github.com/felixgeelhaar/specforge/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print version information including version number, git commit,
build date, Go version, and platform.`,
	Args: cobra.NoArgs,
	RunE: runVersion,
}

var (
	versionVerbose bool
	versionFormat  string
)

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "show detailed version information")
	versionCmd.Flags().StringVar(&versionFormat, "format", formatText, "output format: text, json, or yaml")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	if err := validateFormat(versionFormat); err != nil {
		return err
	}
	info := version.GetInfo()
	out := cmd.OutOrStdout()

	if versionFormat != formatText {
		return writeStructured(out, versionFormat, info)
	}
	if versionVerbose {
		styles := tui.DefaultStyles()
		fmt.Fprintln(out, styles.Border.Render(styles.Title.Render("specforge")+"\n"+
			styles.Subtitle.Render("spec review and decomposition")))
		fmt.Fprintln(out, info.String())
		return nil
	}
	fmt.Fprintf(out, "specforge %s\n", info.Short())
	return nil
}
