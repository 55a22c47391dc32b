package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"matchreview/internal/deps"
	"matchreview/internal/gateway"
	"matchreview/internal/services"
)

const backendCheckTimeout = 5 * time.Second

// CheckBackend verifies that the matching backend answers a read-only
// request with a well-formed response. It makes a single attempt.
func CheckBackend(ctx context.Context, baseURL string) Result {
	const name = "Backend"

	base := strings.TrimSpace(baseURL)
	if base == "" {
		return Result{Name: name, Detail: "missing base_url"}
	}
	client, err := gateway.New(base, gateway.WithTimeout(backendCheckTimeout))
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}

	checkCtx, cancel := context.WithTimeout(ctx, backendCheckTimeout)
	defer cancel()
	reviews, err := client.ReviewState(checkCtx)
	if err != nil {
		if errors.Is(checkCtx.Err(), context.DeadlineExceeded) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (timed out)", base)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (%v)", base, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, %d reviewed segments)", base, len(reviews))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFFprobe reports whether the configured ffprobe binary runs. Preview
// still works without it, so the result is optional.
func CheckFFprobe(ctx context.Context, binary string) Result {
	report := deps.Inspect(ctx, deps.FFprobe(binary))
	result := Result{Name: report.Name, Optional: report.Optional}
	switch {
	case errors.Is(report.Err, services.ErrNotFound):
		result.Detail = report.Err.Error() + "; previews skip media validation"
	case report.Err != nil:
		result.Detail = report.Err.Error()
	default:
		result.Passed = true
		result.Detail = report.Version
	}
	return result
}
