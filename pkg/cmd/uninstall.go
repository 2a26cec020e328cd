package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/installer"
	"github.com/tomecli/tome/pkg/tomefile"
)

func newUninstallCmd() *cobra.Command {
	var (
		file   string
		choose bool
	)

	uninstallCmd := &cobra.Command{
		Use:   "uninstall [source]",
		Short: "Uninstall commands",
		Long: `Removes an installed source from the cache, or unregisters an editable
folder. The source must be given the same way it was installed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var uri string
			if len(args) > 0 {
				uri = args[0]
			}
			if uri != "" && file != "" {
				return tomeerrors.New(tomeerrors.ErrSourceFormat,
					"Cannot specify both a source and a tomefile.yaml. Please choose one uninstallation method.")
			}
			if choose && (uri != "" || file != "") {
				return tomeerrors.New(tomeerrors.ErrSourceFormat, "--select cannot be combined with a source or a tomefile.yaml.")
			}

			inst, err := newInstaller(Cfg)
			if err != nil {
				return err
			}

			switch {
			case choose:
				return runUninstallSelect(cmd, inst)
			case file != "":
				tf, err := tomefile.Load(file)
				if err != nil {
					return err
				}
				summary := inst.UninstallManifest(cmd.Context(), tf)
				printSummary(cmd.OutOrStdout(), summary)
				return summary.Err()
			default:
				res, err := inst.UninstallURI(cmd.Context(), uri)
				if err != nil {
					return err
				}
				printUninstalled(cmd, res)
				return nil
			}
		},
	}

	uninstallCmd.Flags().StringVarP(&file, "file", "f", "", "uninstall every source listed in a tomefile.yaml")
	uninstallCmd.Flags().BoolVar(&choose, "select", false, "choose the sources to uninstall interactively")
	return uninstallCmd
}

func runUninstallSelect(cmd *cobra.Command, inst *installer.Installer) error {
	items, err := inst.List()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to uninstall")
		return nil
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return tomeerrors.New(tomeerrors.ErrSourceFormat, "--select needs an interactive terminal.")
	}

	options := make([]huh.Option[int], len(items))
	for i := range items {
		options[i] = huh.NewOption(itemLabel(&items[i]), i)
	}

	var selectedIdxs []int
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[int]().
				Title("Select sources to uninstall").
				Options(options...).
				Value(&selectedIdxs),
		),
	).Run()
	if err != nil {
		return fmt.Errorf("selection prompt failed: %w", err)
	}

	if len(selectedIdxs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing selected")
		return nil
	}

	for _, idx := range selectedIdxs {
		res, err := inst.Remove(cmd.Context(), items[idx])
		if err != nil {
			return err
		}
		printUninstalled(cmd, res)
	}
	return nil
}

func printUninstalled(cmd *cobra.Command, res *installer.UninstallResult) {
	out := cmd.OutOrStdout()
	switch {
	case res.Editable:
		fmt.Fprintf(out, "Removed '%s' from editable installations.\n", res.Path)
	case res.Source != nil:
		fmt.Fprintf(out, "Uninstalled '%s' and removed directory: %s\n", res.Source.URI, res.Path)
	default:
		fmt.Fprintf(out, "Removed directory: %s\n", res.Path)
	}
}

func itemLabel(item *installer.Installed) string {
	switch {
	case item.Editable:
		return "editable: " + item.URI()
	case item.Source != nil:
		return string(item.Source.Kind) + ": " + item.URI()
	default:
		return "unknown: " + item.URI()
	}
}
