package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/specforge/internal/config"
	"github.com/felixgeelhaar/specforge/internal/errors"
	"github.com/felixgeelhaar/specforge/internal/tui"
	"github.com/felixgeelhaar/specforge/internal/workspace"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect .specforge/config.yaml",
	Long: `Manage the project configuration stored at .specforge/config.yaml.

Any key can be overridden from the environment with the SPECFORGE_ prefix, for example
SPECFORGE_REVIEW_TIMEOUT=5m or SPECFORGE_ASSISTANT_COMMAND=claude.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration, including environment overrides",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file path",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the configuration in $EDITOR and validate it afterwards",
	Args:  cobra.NoArgs,
	RunE:  runConfigEdit,
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "replace an existing configuration file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd, configEditCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() (string, error) {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspace.DirName, workspace.ConfigFile), nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		if !tui.ShouldPrompt() {
			return errors.NewValidationError(errors.ErrCodeInvalidInput, path+" already exists").
				WithSuggestion("Pass --force to replace it")
		}
		ok, err := tui.PromptForConfirmation(path+" exists. Replace it with defaults?", false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.DefaultStyles().Success.Render("wrote "+path))
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	root, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(config.Default(), path); err != nil {
			return err
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "vi"
	}
	editorCmd := exec.CommandContext(cmd.Context(), editor, path)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr
	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("failed to run editor: %w", err)
	}

	if _, err := config.LoadFile(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.DefaultStyles().Success.Render("configuration is valid"))
	return nil
}
