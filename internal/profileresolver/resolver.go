// Package profileresolver implements the profile resolver (C4):
// reading a profile record and its referenced package lists into an
// effective include/exclude package set and selected-file list.
package profileresolver

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/openwrt-builder/builder/internal/collabregistry"
)

// ErrInvalidPackageName is returned when a package token fails packageRe.
var ErrInvalidPackageName = errors.New("profileresolver: invalid package name")

// ErrInvalidFilePath is returned when a file path is empty, absolute,
// or contains "." or ".." segments.
var ErrInvalidFilePath = errors.New("profileresolver: invalid file path")

var packageRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.+-]*$`)

// Resolved is the effective package/file selection for a profile.
type Resolved struct {
	Include       []string
	Exclude       []string
	SelectedFiles []string
}

// Resolver resolves profile_id into a Resolved set, via the
// collaborator profile/list registries.
type Resolver struct {
	profiles *collabregistry.ProfilesRegistry
	lists    *collabregistry.ListsRegistry
}

// New returns a Resolver backed by the given collaborator registries.
func New(profiles *collabregistry.ProfilesRegistry, lists *collabregistry.ListsRegistry) *Resolver {
	return &Resolver{profiles: profiles, lists: lists}
}

// ValidateRelPath normalizes and validates a relative file path: no
// empty, ".", or ".." segments; backslashes are folded to forward
// slashes.
func ValidateRelPath(raw string) (string, error) {
	norm := strings.ReplaceAll(strings.TrimSpace(raw), `\`, "/")
	if norm == "" {
		return "", ErrInvalidFilePath
	}
	parts := strings.Split(norm, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidFilePath, raw)
		}
	}
	return strings.Join(parts, "/"), nil
}

// ValidatePackage checks a package token against the required shape.
func ValidatePackage(pkg string) error {
	if !packageRe.MatchString(pkg) {
		return fmt.Errorf("%w: %q", ErrInvalidPackageName, pkg)
	}
	return nil
}

// dedup preserves first occurrence order while dropping repeats.
func dedup(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// Resolve implements §4.4's algorithm.
func (r *Resolver) Resolve(profileID string) (*Resolved, error) {
	profile, err := r.profiles.Get(profileID)
	if err != nil {
		return nil, err
	}

	var include, exclude, files []string

	for _, listID := range profile.Lists {
		list, err := r.lists.Get(listID)
		if err != nil {
			return nil, err
		}
		include = append(include, list.Include...)
		exclude = append(exclude, list.Exclude...)
	}

	include = append(include, profile.ExtraInclude...)
	exclude = append(exclude, profile.ExtraExclude...)
	files = append(files, profile.Files...)

	include = dedup(include)
	exclude = dedup(exclude)
	files = dedup(files)

	for _, pkg := range include {
		if err := ValidatePackage(pkg); err != nil {
			return nil, err
		}
	}
	for _, pkg := range exclude {
		if err := ValidatePackage(pkg); err != nil {
			return nil, err
		}
	}
	normalizedFiles := make([]string, 0, len(files))
	for _, f := range files {
		norm, err := ValidateRelPath(f)
		if err != nil {
			return nil, err
		}
		normalizedFiles = append(normalizedFiles, norm)
	}

	return &Resolved{Include: include, Exclude: exclude, SelectedFiles: normalizedFiles}, nil
}
