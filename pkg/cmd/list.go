package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tomecli/tome/pkg/installer"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := newInstaller(Cfg)
			if err != nil {
				return err
			}
			items, err := inst.List()
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources installed")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "KIND\tSOURCE\tVERSION\tPATH")
			for i := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", itemKind(&items[i]), items[i].URI(), itemVersion(&items[i]), itemPath(&items[i]))
			}
			return w.Flush()
		},
	}
}

func itemKind(item *installer.Installed) string {
	if item.Source == nil {
		return "?"
	}
	return string(item.Source.Kind)
}

func itemVersion(item *installer.Installed) string {
	if item.Source == nil {
		return "-"
	}
	v := item.Source.Version
	if c := item.Source.Commit; c != "" {
		if len(c) > 12 {
			c = c[:12]
		}
		if v == "" {
			return c
		}
		v += " @ " + c
	}
	if v == "" {
		return "-"
	}
	return v
}

func itemPath(item *installer.Installed) string {
	if item.Missing {
		return item.Path + " (missing)"
	}
	return item.Path
}
