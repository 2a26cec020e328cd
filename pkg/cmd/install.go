package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/installer"
	"github.com/tomecli/tome/pkg/source"
	"github.com/tomecli/tome/pkg/tomefile"
)

type installFlags struct {
	editable          bool
	file              string
	noSSL             bool
	createEnv         bool
	forceRequirements bool
	folder            string
	sha256            string
}

func newInstallCmd() *cobra.Command {
	var f installFlags

	installCmd := &cobra.Command{
		Use:   "install [source]",
		Short: "Install commands from a source",
		Long: `Installs commands into the cache.

A source containing ".git" or starting with "git@" is cloned; append @ref to
check out a branch, tag or commit. A source starting with "http" is
downloaded and unpacked. A local folder is copied and a local archive is
unpacked. With -e the folder is used in place and nothing is copied.

A requirements.txt at the root of the installed commands is installed with
pip inside the active virtual environment.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd, args, &f)
		},
	}

	flags := installCmd.Flags()
	flags.BoolVarP(&f.editable, "editable", "e", false, "use the local folder in place instead of copying it")
	flags.StringVarP(&f.file, "file", "f", "", "install every source listed in a tomefile.yaml")
	flags.BoolVar(&f.noSSL, "no-ssl", false, "do not verify SSL certificates when downloading")
	flags.BoolVar(&f.createEnv, "create-env", false, "create a virtual environment for the requirements")
	flags.BoolVar(&f.forceRequirements, "force-requirements", false, "install requirements outside a virtual environment")
	flags.StringVar(&f.folder, "folder", "", "install only this sub-folder of a git repository or archive")
	flags.StringVar(&f.sha256, "sha256", "", "expected SHA-256 of a downloaded or local archive")

	return installCmd
}

func runInstall(cmd *cobra.Command, args []string, f *installFlags) error {
	var uri string
	if len(args) > 0 {
		uri = args[0]
	}
	if uri != "" && f.file != "" {
		return tomeerrors.New(tomeerrors.ErrSourceFormat,
			"Cannot specify both a source and a tomefile.yaml. Please choose one installation method.")
	}

	inst, err := newInstaller(Cfg)
	if err != nil {
		return err
	}
	opts := installer.Options{CreateEnv: f.createEnv, ForceRequirements: f.forceRequirements}
	out := cmd.OutOrStdout()

	if f.file != "" {
		if f.editable || f.folder != "" || f.sha256 != "" {
			return tomeerrors.New(tomeerrors.ErrSourceFormat,
				"--editable, --folder and --sha256 apply to a single source. Set them per entry in the tomefile.yaml.")
		}
		tf, err := tomefile.Load(f.file)
		if err != nil {
			return err
		}
		summary := inst.InstallManifest(cmd.Context(), tf, opts)
		printSummary(out, summary)
		return summary.Err()
	}

	src, err := resolveInstallSource(uri, f)
	if err != nil {
		return err
	}

	res, err := inst.Install(cmd.Context(), src, opts)
	if res != nil {
		switch {
		case src.Kind == source.KindEditable && res.AlreadyEditable:
			fmt.Fprintf(out, "The source '%s' is already configured as editable.\n", res.Path)
		case src.Kind == source.KindEditable:
			fmt.Fprintf(out, "Configured editable installation for '%s'\n", res.Path)
		default:
			fmt.Fprintf(out, "Installed %s into %s\n", src.URI, res.Path)
		}
		if res.EnvPath != "" {
			fmt.Fprintf(out, "Created virtual environment at %s\n", res.EnvPath)
		}
	}
	return err
}

// resolveInstallSource applies the single-source flags to the parsed
// source string.
func resolveInstallSource(uri string, f *installFlags) (*source.Source, error) {
	var src *source.Source
	if f.editable {
		if uri == "" {
			return nil, tomeerrors.New(tomeerrors.ErrSourceFormat, "No installation source provided.")
		}
		src = &source.Source{URI: uri, Kind: source.KindEditable, VerifySSL: true}
	} else {
		var err error
		if src, err = source.Parse(uri); err != nil {
			return nil, err
		}
	}

	src.VerifySSL = !f.noSSL && Cfg.VerifySSL
	src.Folder = f.folder
	src.SHA256 = strings.ToLower(f.sha256)
	if err := src.Validate(); err != nil {
		return nil, err
	}
	return src, nil
}
