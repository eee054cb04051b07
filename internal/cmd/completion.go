package cmd

import (
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `To load completions:

Bash:
  $ source <(specforge completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ specforge completion bash > /etc/bash_completion.d/specforge
  # macOS:
  $ specforge completion bash > $(brew --prefix)/etc/bash_completion.d/specforge

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ specforge completion zsh > "${fpath[1]}/_specforge"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ specforge completion fish | source

  # To load completions for each session, execute once:
  $ specforge completion fish > ~/.config/fish/completions/specforge.fish

PowerShell:
  PS> specforge completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> specforge completion powershell > specforge.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:                  runCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	switch args[0] {
	case "bash":
		return rootCmd.GenBashCompletionV2(out, true)
	case "zsh":
		return rootCmd.GenZshCompletion(out)
	case "fish":
		return rootCmd.GenFishCompletion(out, true)
	case "powershell":
		return rootCmd.GenPowerShellCompletionWithDesc(out)
	}
	return nil
}
