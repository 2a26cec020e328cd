package installer

import (
	"context"
	"fmt"
	"strings"

	tomeerrors "github.com/tomecli/tome/pkg/errors"
	"github.com/tomecli/tome/pkg/logging"
	"github.com/tomecli/tome/pkg/tomefile"
)

// Status is the outcome of one tomefile entry.
type Status string

const (
	StatusInstalled   Status = "INSTALLED"
	StatusUninstalled Status = "UNINSTALLED"
	StatusSkipped     Status = "SKIPPED"
	StatusFailed      Status = "FAILED"
)

// Outcome is the result of processing one tomefile entry.
type Outcome struct {
	Origin string
	Status Status
	// Detail is a short annotation for successes (the checked out ref) or
	// the reason for skips and failures.
	Detail string
	Err    error
}

// Summary collects the outcomes of a tomefile run in entry order.
type Summary struct {
	Outcomes []Outcome
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
}

func (s *Summary) filter(statuses ...Status) []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		for _, st := range statuses {
			if o.Status == st {
				out = append(out, o)
			}
		}
	}
	return out
}

// Installed returns the successful entries, installed or uninstalled.
func (s *Summary) Installed() []Outcome { return s.filter(StatusInstalled, StatusUninstalled) }
func (s *Summary) Skipped() []Outcome   { return s.filter(StatusSkipped) }
func (s *Summary) Failed() []Outcome    { return s.filter(StatusFailed) }

// Err summarizes failed entries as a single error, or returns nil.
func (s *Summary) Err() error {
	failed := s.Failed()
	if len(failed) == 0 {
		return nil
	}
	origins := make([]string, len(failed))
	for i, o := range failed {
		origins[i] = o.Origin
	}
	return tomeerrors.Newf(tomeerrors.GetErrorCode(failed[0].Err),
		"%d of %d sources failed: %s", len(failed), len(s.Outcomes), strings.Join(origins, ", "))
}

// InstallManifest installs every entry of f. A failing entry is recorded
// and the remaining entries still run. Entries whose platform filter
// excludes this system are skipped.
func (inst *Installer) InstallManifest(ctx context.Context, f *tomefile.File, opts Options) *Summary {
	logger := logging.GetLogger("installer")
	summary := &Summary{}

	for i := range f.Sources {
		e := &f.Sources[i]
		if !e.MatchesPlatform(inst.goos()) {
			summary.add(Outcome{
				Origin: e.Origin,
				Status: StatusSkipped,
				Detail: fmt.Sprintf("Skipped: platforms %v do not include %s", e.Platforms, inst.goos()),
			})
			continue
		}

		src, err := e.Source()
		if err == nil {
			var res *Result
			res, err = inst.Install(ctx, src, opts)
			if err == nil {
				summary.add(Outcome{Origin: e.Origin, Status: StatusInstalled, Detail: installedDetail(res)})
				continue
			}
		}

		logger.Error().Err(err).Msgf("Failed to install %s", e.Origin)
		summary.add(Outcome{Origin: e.Origin, Status: StatusFailed, Detail: err.Error(), Err: err})
	}
	return summary
}

// UninstallManifest uninstalls every entry of f with the same per-entry
// isolation as InstallManifest. Entries that are not installed are
// skipped rather than failed.
func (inst *Installer) UninstallManifest(ctx context.Context, f *tomefile.File) *Summary {
	summary := &Summary{}

	for i := range f.Sources {
		e := &f.Sources[i]
		if !e.MatchesPlatform(inst.goos()) {
			summary.add(Outcome{
				Origin: e.Origin,
				Status: StatusSkipped,
				Detail: fmt.Sprintf("Skipped: platforms %v do not include %s", e.Platforms, inst.goos()),
			})
			continue
		}

		src, err := e.Source()
		if err == nil {
			_, err = inst.Uninstall(ctx, src)
		}
		switch {
		case err == nil:
			summary.add(Outcome{Origin: e.Origin, Status: StatusUninstalled})
		case tomeerrors.IsErrorCode(err, tomeerrors.ErrNotInstalled):
			summary.add(Outcome{Origin: e.Origin, Status: StatusSkipped, Detail: err.Error(), Err: err})
		default:
			summary.add(Outcome{Origin: e.Origin, Status: StatusFailed, Detail: err.Error(), Err: err})
		}
	}
	return summary
}

func installedDetail(res *Result) string {
	if res == nil || res.Source == nil {
		return ""
	}
	switch {
	case res.Source.Commit != "" && res.Source.Version != "":
		return res.Source.Version + " @ " + shortCommit(res.Source.Commit)
	case res.Source.Commit != "":
		return shortCommit(res.Source.Commit)
	default:
		return res.Source.Version
	}
}

func shortCommit(c string) string {
	if len(c) > 12 {
		return c[:12]
	}
	return c
}
