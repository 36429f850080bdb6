package simulator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/croplab/fieldrun/internal/site"
)

// controlFile is the derived run configuration the external program reads
// from its working directory: input file roles, start date, duration, and
// the requested output tags.
const controlFile = "FIELDRUN.CTL"

// stage creates a private working directory for one task and populates it
// with the four input files plus the control file. Input files are
// hard-linked when possible so staging stays cheap for large weather files.
func (r *Runner) stage(runID string, s *site.Site) (string, error) {
	runDir := filepath.Join(r.cfg.CacheDir, "runs", runID, s.ID)
	if err := os.RemoveAll(runDir); err != nil {
		return "", fmt.Errorf("clean staging dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	for _, in := range s.Inputs() {
		dst := filepath.Join(runDir, filepath.Base(in.Path))
		if err := linkOrCopy(in.Path, dst); err != nil {
			return "", fmt.Errorf("stage %s file: %w", in.Role, err)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "site      %s\n", s.ID)
	for _, in := range s.Inputs() {
		fmt.Fprintf(&b, "%-9s %s\n", in.Role, filepath.Base(in.Path))
	}
	if !r.cfg.StartDate().IsZero() {
		fmt.Fprintf(&b, "start     %s\n", r.cfg.StartDate().Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "years     %d\n", r.cfg.Model.Duration)
	fmt.Fprintf(&b, "outputs   %s\n", strings.Join(r.cfg.Model.OutputTypes, " "))

	if err := os.WriteFile(filepath.Join(runDir, controlFile), []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write control file: %w", err)
	}
	return runDir, nil
}

func linkOrCopy(src, dst string) error {
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
