// Package provision installs the Python dependencies that a set of
// commands declares in a requirements.txt at its root.
package provision

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/runner"
)

const (
	// ManifestFile is the dependency manifest looked up at the install root.
	ManifestFile = "requirements.txt"
	// EnvDir is the isolated environment created next to the manifest.
	EnvDir = ".tome_venv"
)

// Tool selects the package installer.
type Tool string

const (
	ToolPip  Tool = "pip"
	ToolUV   Tool = "uv"
	ToolAuto Tool = "auto" // uv when on PATH, pip otherwise
)

// ParseTool accepts "", "pip", "uv" and "auto".
func ParseTool(s string) (Tool, error) {
	switch t := Tool(strings.ToLower(strings.TrimSpace(s))); t {
	case "", ToolPip:
		return ToolPip, nil
	case ToolUV, ToolAuto:
		return t, nil
	default:
		return "", tomeerrors.Newf(tomeerrors.ErrConfig, "Unknown dependency installer %q, expected pip, uv or auto", s)
	}
}

type Provisioner struct {
	Runner runner.Runner
	// Python is the interpreter used for venv creation and pip. Defaults
	// to "python3" ("python" on Windows).
	Python string
	Tool   Tool

	// Getenv and LookPath default to the os and os/exec versions.
	Getenv   func(string) string
	LookPath func(string) (string, error)
}

type Options struct {
	// CreateEnv creates a fresh environment at <dir>/.tome_venv and
	// installs into it.
	CreateEnv bool
	// Force installs into the current interpreter even outside a virtual
	// environment.
	Force bool
	// Origin names the source in log output. Defaults to dir.
	Origin string
}

type Result struct {
	// Installed is false when dir has no manifest.
	Installed bool
	// EnvPath is set when an environment was created.
	EnvPath string
}

// Provision installs dir/requirements.txt if it exists. It runs on every
// call; nothing is cached.
func (p *Provisioner) Provision(ctx context.Context, dir string, opts Options) (*Result, error) {
	logger := logging.GetLogger("provision")

	manifest := filepath.Join(dir, ManifestFile)
	if info, err := os.Stat(manifest); err != nil || !info.Mode().IsRegular() {
		return &Result{}, nil
	}

	tool := p.tool()
	python := p.python()
	result := &Result{Installed: true}

	if opts.CreateEnv {
		envPath := filepath.Join(dir, EnvDir)
		args := []string{python, "-m", "venv", envPath}
		if tool == ToolUV {
			args = []string{"uv", "venv", envPath}
		}
		logger.Info().Msg("Creating virtual environment")
		code, out, err := p.Runner.Run(ctx, args, dir)
		if err != nil || code != 0 {
			return nil, failure("Failed to create the virtual environment at "+envPath, out, err)
		}
		logger.Info().Msgf("Created the virtual environment located at '%s'", envPath)
		python = envPython(envPath)
		result.EnvPath = envPath
	} else if !opts.Force && !p.inVirtualEnv() {
		return nil, tomeerrors.New(tomeerrors.ErrProvision,
			"You must be within a virtual environment to install requirements or use the --create-env argument.")
	}

	origin := opts.Origin
	if origin == "" {
		origin = dir
	}
	envMessage := "current"
	if opts.CreateEnv {
		envMessage = "created"
	}
	logger.Info().Msgf("Scripts from %s contain a '%s', installing it in the %s virtual environment.",
		origin, ManifestFile, envMessage)

	args := []string{python, "-m", "pip", "install", "-r", manifest}
	if tool == ToolUV {
		args = []string{"uv", "pip", "install", "--python", python, "-r", manifest}
	}
	code, out, err := p.Runner.Run(ctx, args, dir)
	if err != nil || code != 0 {
		return nil, failure("pip install failed. These commands might not work correctly", out, err)
	}

	logger.Info().Msgf("Successfully installed requirements from %s", manifest)
	return result, nil
}

func (p *Provisioner) tool() Tool {
	switch p.Tool {
	case ToolUV:
		return ToolUV
	case ToolAuto:
		lookPath := exec.LookPath
		if p.LookPath != nil {
			lookPath = p.LookPath
		}
		if _, err := lookPath("uv"); err == nil {
			return ToolUV
		}
	}
	return ToolPip
}

func (p *Provisioner) python() string {
	if p.Python != "" {
		return p.Python
	}
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

func (p *Provisioner) inVirtualEnv() bool {
	getenv := os.Getenv
	if p.Getenv != nil {
		getenv = p.Getenv
	}
	return getenv("VIRTUAL_ENV") != "" || getenv("CONDA_PREFIX") != ""
}

func envPython(envPath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(envPath, "Scripts", "python.exe")
	}
	return filepath.Join(envPath, "bin", "python")
}

// failure builds a PROVISION error that carries the captured output.
func failure(msg, output string, err error) error {
	if output = strings.TrimSpace(output); output != "" {
		msg += ": " + output
	}
	if err != nil {
		return tomeerrors.Wrap(err, tomeerrors.ErrProvision, msg)
	}
	return tomeerrors.New(tomeerrors.ErrProvision, msg)
}
