// Package deeplink parses URL activations that open a review project.
//
// Accepted forms:
//
//	matchreview://open?root=/data/project&movie=movie.mkv&clip=clip.mp4
//	matchreview://open/data/project
//	/data/project
//
// The root is NFC-normalized so a path typed on one system matches the same
// path produced by a file manager on another.
package deeplink

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"

	"matchreview/internal/services"
)

// Scheme is the URL scheme handled by Parse.
const Scheme = "matchreview"

// Link is a parsed project activation.
type Link struct {
	Root  string
	Movie string
	Clip  string
}

// Parse extracts the project root from raw.
func Parse(raw string) (Link, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Link{}, invalid("empty link")
	}
	if strings.HasPrefix(raw, "/") {
		return finish(Link{Root: raw})
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, services.Wrap(services.ErrValidation, "deeplink", "parse", raw, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return Link{}, invalid(fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if !strings.EqualFold(u.Host, "open") {
		return Link{}, invalid(fmt.Sprintf("unsupported action %q", u.Host))
	}

	q := u.Query()
	link := Link{
		Root:  q.Get("root"),
		Movie: strings.TrimSpace(q.Get("movie")),
		Clip:  strings.TrimSpace(q.Get("clip")),
	}
	if link.Root == "" && u.Path != "" && u.Path != "/" {
		link.Root = u.Path
	}
	return finish(link)
}

func finish(link Link) (Link, error) {
	root := strings.TrimSpace(link.Root)
	if root == "" {
		return Link{}, invalid("missing project root")
	}
	root = norm.NFC.String(root)
	if strings.HasPrefix(root, "/") {
		root = path.Clean(root)
	}
	link.Root = root
	link.Movie = norm.NFC.String(link.Movie)
	link.Clip = norm.NFC.String(link.Clip)
	return link, nil
}

func invalid(message string) error {
	return services.Wrap(services.ErrValidation, "deeplink", "parse", message, nil)
}

// Build renders link in the query form accepted by Parse.
func Build(link Link) string {
	q := url.Values{}
	q.Set("root", link.Root)
	if link.Movie != "" {
		q.Set("movie", link.Movie)
	}
	if link.Clip != "" {
		q.Set("clip", link.Clip)
	}
	return Scheme + "://open?" + q.Encode()
}
