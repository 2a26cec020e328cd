package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tomecli/tome/pkg/config"
	"github.com/tomecli/tome/pkg/download"
	"github.com/tomecli/tome/pkg/installer"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/provision"
	"github.com/tomecli/tome/pkg/runner"
	"github.com/tomecli/tome/pkg/source"
	"github.com/tomecli/tome/pkg/store"
)

var (
	flagHome       string
	flagVerbosity  int
	flagLogFile    string
	flagConfigPath string

	// Cfg holds the resolved configuration, available to all subcommands
	// after PersistentPreRunE completes.
	Cfg *config.Config
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tome",
		Short: "Command script manager",
		Long:  "tome installs command scripts from git repositories, archives and local folders into a local cache.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Overrides{
				Home:      flagHome,
				Verbosity: flagVerbosity,
				LogFile:   flagLogFile,
			}, flagConfigPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.Verbosity, cfg.LogFile)
			Cfg = cfg
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flagHome, "home", "", "cache folder for installed sources (default $TOME_HOME or the XDG data dir)")
	root.PersistentFlags().CountVarP(&flagVerbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "also write logs to this file, rotated")
	root.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file (default $TOME_CONFIG or the XDG config dir)")

	root.AddCommand(newInstallCmd())
	root.AddCommand(newUninstallCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newConfigCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newInstaller wires the engine from the resolved configuration.
func newInstaller(cfg *config.Config) (*installer.Installer, error) {
	tool, err := provision.ParseTool(cfg.Installer)
	if err != nil {
		return nil, err
	}

	run := &runner.Exec{}
	deps := source.Deps{
		Runner:     run,
		Downloader: &download.HTTPDownloader{},
	}
	return installer.New(store.New(cfg.Home), deps, &provision.Provisioner{
		Runner: run,
		Python: cfg.Python,
		Tool:   tool,
	}), nil
}
