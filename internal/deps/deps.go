// Package deps locates the external programs matchreview runs and reads
// their version banners.
package deps

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"matchreview/internal/services"
)

const versionTimeout = 5 * time.Second

// Tool is an external program matchreview shells out to.
type Tool struct {
	Name        string
	Binary      string
	VersionArgs []string
	// Optional tools degrade a feature when missing instead of blocking it.
	Optional bool
}

// FFprobe describes the probe used to validate media before preview. An
// empty binary means "ffprobe" on PATH.
func FFprobe(binary string) Tool {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "ffprobe"
	}
	return Tool{
		Name:        "FFprobe",
		Binary:      binary,
		VersionArgs: []string{"-version"},
		Optional:    true,
	}
}

// Report is what Inspect learned about a tool.
type Report struct {
	Tool
	Path    string
	Version string
	Err     error
}

// Available reports whether the tool was found and answered its version query.
func (r Report) Available() bool {
	return r.Err == nil
}

// Inspect resolves tool on PATH and runs its version query. A binary that
// cannot be found wraps services.ErrNotFound; one that runs but fails or
// prints nothing wraps services.ErrUnavailable.
func Inspect(ctx context.Context, tool Tool) Report {
	report := Report{Tool: tool}
	binary := strings.TrimSpace(tool.Binary)
	if binary == "" {
		report.Err = services.Wrap(services.ErrConfiguration, "deps", "inspect", tool.Name+" binary not configured", nil)
		return report
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		report.Err = services.Wrap(services.ErrNotFound, "deps", "inspect", fmt.Sprintf("binary %q not found", binary), nil)
		return report
	}
	report.Path = path
	if len(tool.VersionArgs) == 0 {
		return report
	}

	version, err := readVersion(ctx, path, tool.VersionArgs)
	if err != nil {
		report.Err = services.Wrap(services.ErrUnavailable, "deps", "version", tool.Name, err)
		return report
	}
	report.Version = version
	return report
}

func readVersion(ctx context.Context, path string, args []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, args...).Output() // #nosec G204 -- binary comes from config
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", path, strings.Join(args, " "), err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("%s %s: empty output", path, strings.Join(args, " "))
}
