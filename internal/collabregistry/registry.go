// Package collabregistry implements the generic, out-of-core
// collaborator registries (C8): profile and package-list records,
// stored one JSON file per record under a configured root directory.
// It mirrors the shape of the original service's BaseRegistry.
package collabregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openwrt-builder/builder/internal/atomicfile"
	"github.com/openwrt-builder/builder/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("collabregistry: not found")

// ErrInvalidID is returned when a caller-supplied ID fails jsonIDRe.
var ErrInvalidID = errors.New("collabregistry: invalid id")

// jsonIDRe matches the allowed shape of a caller-chosen record ID.
var jsonIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func nowZ() time.Time { return time.Now().UTC() }

// Slug normalizes s into a lowercase, URL-safe identifier: runs of
// non-alphanumerics become a single '-', and leading/trailing '-' is
// trimmed.
func Slug(s string) string {
	lower := strings.ToLower(s)
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// base is the shared file-registry machinery for a single record kind
// (profiles, lists, ...), each record a {kind}/{id}.json file.
type base struct {
	dir string
}

func (r *base) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func (r *base) list() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("collabregistry: read dir %s: %w", r.dir, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	return ids, nil
}

func (r *base) exists(id string) bool {
	_, err := os.Stat(r.path(id))
	return err == nil
}

func (r *base) delete(id string) error {
	if err := os.Remove(r.path(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("collabregistry: remove %s: %w", r.path(id), err)
	}
	return nil
}

func resolveID(requested string, generate func() string, exists func(string) bool) (string, error) {
	if requested == "" {
		id := generate()
		for exists(id) {
			id = generate()
		}
		return id, nil
	}
	if !jsonIDRe.MatchString(requested) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, requested)
	}
	return requested, nil
}

// ProfilesRegistry stores model.Profile records.
type ProfilesRegistry struct{ base }

// NewProfilesRegistry returns a registry rooted at dir (typically
// OPENWRT_BUILDER_PROFILES_DIR).
func NewProfilesRegistry(dir string) *ProfilesRegistry {
	return &ProfilesRegistry{base{dir: dir}}
}

// Get loads the profile with the given ID.
func (r *ProfilesRegistry) Get(id string) (*model.Profile, error) {
	var p model.Profile
	if err := atomicfile.ReadJSON(r.path(id), &p); err != nil {
		if errors.Is(err, atomicfile.ErrNotExist) {
			return nil, fmt.Errorf("%w: profile %q", ErrNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

// List returns every valid profile record; malformed files are skipped.
func (r *ProfilesRegistry) List() ([]*model.Profile, error) {
	ids, err := r.list()
	if err != nil {
		return nil, err
	}
	var out []*model.Profile
	for _, id := range ids {
		p, err := r.Get(id)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Create persists p under id (generating a slugged UUID-based ID when
// id is empty) and returns the final ID used.
func (r *ProfilesRegistry) Create(id string, p model.Profile) (string, error) {
	finalID, err := resolveID(id, func() string { return Slug("profile-" + uuid.NewString()) }, r.exists)
	if err != nil {
		return "", err
	}
	p.ProfileID = finalID
	p.UpdatedAt = nowZ()
	if err := atomicfile.WriteJSON(r.path(finalID), p); err != nil {
		return "", err
	}
	return finalID, nil
}

// Delete removes the profile with the given ID.
func (r *ProfilesRegistry) Delete(id string) error { return r.delete(id) }

// ListsRegistry stores model.List records.
type ListsRegistry struct{ base }

// NewListsRegistry returns a registry rooted at dir (typically
// OPENWRT_BUILDER_LISTS_DIR).
func NewListsRegistry(dir string) *ListsRegistry {
	return &ListsRegistry{base{dir: dir}}
}

// Get loads the list with the given ID.
func (r *ListsRegistry) Get(id string) (*model.List, error) {
	var l model.List
	if err := atomicfile.ReadJSON(r.path(id), &l); err != nil {
		if errors.Is(err, atomicfile.ErrNotExist) {
			return nil, fmt.Errorf("%w: list %q", ErrNotFound, id)
		}
		return nil, err
	}
	return &l, nil
}

// List returns every valid list record; malformed files are skipped.
func (r *ListsRegistry) List() ([]*model.List, error) {
	ids, err := r.list()
	if err != nil {
		return nil, err
	}
	var out []*model.List
	for _, id := range ids {
		l, err := r.Get(id)
		if err != nil {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// Create persists l under id (generating a slugged UUID-based ID when
// id is empty) and returns the final ID used.
func (r *ListsRegistry) Create(id string, l model.List) (string, error) {
	finalID, err := resolveID(id, func() string { return Slug("list-" + uuid.NewString()) }, r.exists)
	if err != nil {
		return "", err
	}
	l.ListID = finalID
	l.UpdatedAt = nowZ()
	if err := atomicfile.WriteJSON(r.path(finalID), l); err != nil {
		return "", err
	}
	return finalID, nil
}

// Delete removes the list with the given ID.
func (r *ListsRegistry) Delete(id string) error { return r.delete(id) }
