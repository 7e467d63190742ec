// Package atomicfile is the write-rename persistence primitive (C1)
// used by the queue, build registry, and collaborator registries.
package atomicfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotExist wraps the case where the target path does not exist.
// Callers use errors.Is(err, ErrNotExist) to distinguish "absent"
// from "present but malformed".
var ErrNotExist = errors.New("atomicfile: not found")

// WriteJSON marshals v and persists it to path so that, at every
// instant, path either holds its previous complete contents or the
// new complete contents — never a partial write. It writes to a
// sibling temp file in the same directory, fsyncs it, then renames
// over the destination.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("atomicfile: mkdir %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("atomicfile: marshal %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("atomicfile: fsync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomicfile: rename into %s: %w", path, err)
	}
	return nil
}

// ReadJSON reads path and unmarshals it into v. If path does not
// exist, it returns an error wrapping ErrNotExist. Malformed JSON is
// returned as a plain decode error (not ErrNotExist) so callers can
// tell the two apart per SPEC_FULL.md §7.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", path, ErrNotExist)
		}
		return fmt.Errorf("atomicfile: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("atomicfile: decode %s: %w", path, err)
	}
	return nil
}
