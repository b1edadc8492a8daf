// Package resource implements the resolver contract of spec.md §6.3: it
// turns a relative, locale-aware, fallback-enabled ResourceRef string into a
// preloaded opaque asset handle. spec.md treats the resolver as an external
// collaborator; this package is the concrete filesystem-backed
// implementation needed to exercise the rest of the daemon end to end.
package resource

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/datagutt/pynab/internal/proto"
)

// Kind distinguishes the two things a ResourceRef can point at; both are
// resolved identically, only the bytes' downstream consumer differs
// (internal/actuator.AudioSink vs internal/choreo.Program).
type Kind int

const (
	KindAudio Kind = iota
	KindChoreography
)

// Asset is the preloaded, resolved result of a ResourceRef. It satisfies
// actuator.AudioHandle so the choreography engine can hand it straight to
// an AudioSink without a conversion step.
type Asset struct {
	Ref  string // the fallback component that actually matched
	Path string
	Data []byte
}

func (a *Asset) Name() string { return a.Ref }

// Resolver is the contract spec.md §6.3 describes.
type Resolver interface {
	// Resolve resolves a single ResourceRef (its own semicolon fallback
	// list and optional "*" wildcard handled internally) to one asset.
	Resolve(ctx context.Context, ref string, kind Kind) (*Asset, error)
	// ResolveAll resolves an ordered list of ResourceRefs (spec.md §3
	// CommandItem.audio), concatenating each ref's single resolution in
	// order.
	ResolveAll(ctx context.Context, refs []string, kind Kind) ([]*Asset, error)
}

// FSResolver is the filesystem-backed default implementation: a set of app
// asset bundle roots, each containing "<app>/<type>/[<locale>/]<filename>"
// trees (spec.md §6.3).
type FSResolver struct {
	roots  []string
	locale string

	mu   sync.Mutex
	rand *rand.Rand
}

// NewFSResolver builds a resolver over roots, preferring locale-qualified
// paths first. seed controls wildcard-fallback randomness deterministically
// (spec.md §6.4: "A deterministic seed controls any randomness").
func NewFSResolver(roots []string, locale string, seed int64) *FSResolver {
	return &FSResolver{
		roots:  roots,
		locale: locale,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

func (r *FSResolver) Resolve(ctx context.Context, ref string, kind Kind) (*Asset, error) {
	for _, fallback := range strings.Split(ref, ";") {
		fallback = strings.TrimSpace(fallback)
		if fallback == "" {
			continue
		}
		if proto.IsAbsoluteResourcePath(strings.TrimPrefix(fallback, "*")) {
			return nil, proto.NewError(proto.ErrInvalidResource, fmt.Sprintf("absolute resource path rejected: %s", fallback))
		}

		var (
			path string
			err  error
		)
		if strings.HasPrefix(fallback, "*") {
			path, err = r.resolveWildcard(fallback[1:])
		} else {
			path, err = r.resolveProbe(fallback)
		}
		if err != nil {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		return &Asset{Ref: fallback, Path: path, Data: data}, nil
	}
	return nil, proto.NewError(proto.ErrInvalidResource, fmt.Sprintf("no fallback matched for %q", ref))
}

func (r *FSResolver) ResolveAll(ctx context.Context, refs []string, kind Kind) ([]*Asset, error) {
	assets := make([]*Asset, 0, len(refs))
	for _, ref := range refs {
		asset, err := r.Resolve(ctx, ref, kind)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// resolveProbe implements "otherwise probe <app>/<type>/<locale>/<filename>
// then <app>/<type>/<filename> across known apps" (spec.md §6.3).
func (r *FSResolver) resolveProbe(rel string) (string, error) {
	parts := strings.Split(strings.Trim(rel, "/"), "/")
	if len(parts) < 2 {
		return "", ErrPathTraversal
	}
	app := parts[0]
	filename := parts[len(parts)-1]
	typeParts := parts[1 : len(parts)-1]

	for _, root := range r.roots {
		if r.locale != "" {
			localeSegs := append(append([]string{app}, typeParts...), r.locale, filename)
			if p, err := confine(root, filepath.Join(localeSegs...)); err == nil {
				if _, statErr := os.Stat(p); statErr == nil {
					return p, nil
				}
			}
		}
		plainSegs := append(append([]string{app}, typeParts...), filename)
		if p, err := confine(root, filepath.Join(plainSegs...)); err == nil {
			if _, statErr := os.Stat(p); statErr == nil {
				return p, nil
			}
		}
	}
	return "", os.ErrNotExist
}

// resolveWildcard implements "expand the remaining path as a glob across
// installed app asset bundles and choose one match uniformly at random"
// (spec.md §6.3).
func (r *FSResolver) resolveWildcard(pattern string) (string, error) {
	var matches []string
	for _, root := range r.roots {
		full := filepath.Join(root, pattern)
		found, err := filepath.Glob(full)
		if err != nil {
			continue
		}
		for _, m := range found {
			if resolved, err := filepath.EvalSymlinks(m); err == nil && isWithin(resolved, root) {
				matches = append(matches, resolved)
			}
		}
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	r.mu.Lock()
	idx := r.rand.Intn(len(matches))
	r.mu.Unlock()
	return matches[idx], nil
}
