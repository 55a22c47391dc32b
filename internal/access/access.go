// Package access turns operator-granted media references into readable file
// handles. The session never opens media paths directly; it asks a Resolver,
// so hosts with stricter sandboxing can substitute their own grant scheme.
package access

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"matchreview/internal/services"
)

// Handle is a resolved, readable media file.
type Handle struct {
	Path string
}

// URI returns the handle as a source URI for the player.
func (h Handle) URI() string {
	return h.Path
}

// Resolver resolves a prior grant into a readable handle.
type Resolver interface {
	Resolve(ctx context.Context, grant string) (Handle, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, grant string) (Handle, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, grant string) (Handle, error) {
	return f(ctx, grant)
}

// LocalResolver resolves grants as filesystem paths, relative ones against Root.
type LocalResolver struct {
	Root string
}

// Resolve checks the path exists, is a regular file, and is readable by this
// process.
func (r LocalResolver) Resolve(ctx context.Context, grant string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	grant = strings.TrimSpace(grant)
	grant = strings.TrimPrefix(grant, "file://")
	if grant == "" {
		return Handle{}, services.Wrap(services.ErrValidation, "access", "resolve", "empty grant", nil)
	}
	path := grant
	if !filepath.IsAbs(path) && r.Root != "" {
		path = filepath.Join(r.Root, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Handle{}, services.Wrap(services.ErrNotFound, "access", "resolve", path, err)
		}
		return Handle{}, services.Wrap(services.ErrUnavailable, "access", "resolve", path, err)
	}
	if info.IsDir() {
		return Handle{}, services.Wrap(services.ErrValidation, "access", "resolve",
			fmt.Sprintf("%s is a directory", path), nil)
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Handle{}, services.Wrap(services.ErrUnavailable, "access", "resolve",
			fmt.Sprintf("%s is not readable", path), err)
	}
	return Handle{Path: path}, nil
}
