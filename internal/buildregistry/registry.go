// Package buildregistry implements the durable build registry (C3):
// create/dedup, list, read, update, delete, and artifact lookup over
// per-build JSON record files, with request fingerprint-based reuse
// of completed builds.
package buildregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openwrt-builder/builder/internal/atomicfile"
	"github.com/openwrt-builder/builder/internal/collabregistry"
	"github.com/openwrt-builder/builder/internal/model"
	"github.com/openwrt-builder/builder/internal/queue"
)

// Contract errors surfaced unchanged at the boundary (see SPEC_FULL.md §6/§7).
var (
	ErrInvalidRequest  = errors.New("buildregistry: invalid request")
	ErrProfileNotFound = errors.New("buildregistry: profile not found")
	ErrNotFound        = errors.New("buildregistry: build not found")
	ErrNotReady        = errors.New("buildregistry: build not ready")
	ErrRunning         = errors.New("buildregistry: build is running")
	ErrAlreadyFinished = errors.New("buildregistry: build already finished")
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

var validImageKinds = map[model.ImageKind]bool{
	model.ImageSysupgrade: true,
	model.ImageFactory:    true,
}

// Registry is the file-backed build record store.
type Registry struct {
	dir      string
	profiles *collabregistry.ProfilesRegistry
	queue    *queue.Queue
}

// New returns a Registry rooted at dir (typically OPENWRT_BUILDER_BUILDS_DIR),
// validating new requests' profile_id against profiles and enqueuing new
// builds onto q.
func New(dir string, profiles *collabregistry.ProfilesRegistry, q *queue.Queue) *Registry {
	return &Registry{dir: dir, profiles: profiles, queue: q}
}

func (r *Registry) path(buildID string) string {
	return filepath.Join(r.dir, buildID+".json")
}

func (r *Registry) artifactDir(buildID string) string {
	return filepath.Join(r.dir, buildID)
}

func nowZ() time.Time { return time.Now().UTC() }

// validateRequest checks the required shape of a build request; it
// does not check the profile reference (the caller's job, since it
// needs the profiles collaborator).
func validateRequest(req model.BuildRequest) error {
	if req.ProfileID == "" {
		return fmt.Errorf("%w: profile_id is required", ErrInvalidRequest)
	}
	for name, val := range map[string]string{
		"platform":  req.Platform,
		"target":    req.Target,
		"subtarget": req.Subtarget,
		"version":   req.Version,
	} {
		if !tokenRe.MatchString(val) {
			return fmt.Errorf("%w: %s %q does not match required token shape", ErrInvalidRequest, name, val)
		}
	}
	for _, kind := range req.Options.OutputImages {
		if !validImageKinds[kind] {
			return fmt.Errorf("%w: unknown output image %q", ErrInvalidRequest, kind)
		}
	}
	return nil
}

// normalizeDefaults fills in request defaults: output_images defaults
// to ["sysupgrade"] when empty.
func normalizeDefaults(req model.BuildRequest) model.BuildRequest {
	if len(req.Options.OutputImages) == 0 {
		req.Options.OutputImages = []model.ImageKind{model.ImageSysupgrade}
	}
	return req
}

// fingerprint returns the normalized identity of req used for
// dedup comparisons: a deep copy with force_rebuild pinned to false.
func fingerprint(req model.BuildRequest) model.BuildRequest {
	out := req
	out.Options.OutputImages = append([]model.ImageKind(nil), req.Options.OutputImages...)
	out.Options.ForceRebuild = false
	return out
}

func sameFingerprint(a, b model.BuildRequest) bool {
	fa, fb := fingerprint(a), fingerprint(b)
	if fa.ProfileID != fb.ProfileID || fa.Platform != fb.Platform || fa.Target != fb.Target ||
		fa.Subtarget != fb.Subtarget || fa.Version != fb.Version ||
		fa.Options.ForceRebuild != fb.Options.ForceRebuild || fa.Options.Debug != fb.Options.Debug {
		return false
	}
	if len(fa.Options.OutputImages) != len(fb.Options.OutputImages) {
		return false
	}
	for i := range fa.Options.OutputImages {
		if fa.Options.OutputImages[i] != fb.Options.OutputImages[i] {
			return false
		}
	}
	return true
}

func slug(s string) string { return collabregistry.Slug(s) }

func (r *Registry) readRecord(buildID string) (*model.Build, error) {
	var b model.Build
	if err := atomicfile.ReadJSON(r.path(buildID), &b); err != nil {
		if errors.Is(err, atomicfile.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, buildID)
		}
		return nil, err
	}
	return &b, nil
}

func (r *Registry) writeRecord(b *model.Build) error {
	return atomicfile.WriteJSON(r.path(b.BuildID), b)
}

// ListBuilds returns every valid build record sorted by updated_at
// ascending; malformed records are skipped silently.
func (r *Registry) ListBuilds() ([]*model.Build, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildregistry: read dir %s: %w", r.dir, err)
	}
	var out []*model.Build
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		b, err := r.readRecord(id)
		if err != nil || b.BuildID != id {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// GetBuild fetches a build record by ID.
func (r *Registry) GetBuild(buildID string) (*model.Build, error) {
	return r.readRecord(buildID)
}

// CreateBuild validates req, resolves its profile, and either returns
// a matching completed build (created = false) or persists and
// enqueues a brand-new queued record (created = true).
func (r *Registry) CreateBuild(req model.BuildRequest) (*model.Build, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}
	req = normalizeDefaults(req)

	if _, err := r.profiles.Get(req.ProfileID); err != nil {
		if errors.Is(err, collabregistry.ErrNotFound) {
			return nil, false, fmt.Errorf("%w: %q", ErrProfileNotFound, req.ProfileID)
		}
		return nil, false, err
	}

	if !req.Options.ForceRebuild {
		existing, err := r.ListBuilds()
		if err != nil {
			return nil, false, err
		}
		for _, b := range existing {
			if b.State == model.StateDone && sameFingerprint(b.Request, req) {
				return b, false, nil
			}
		}
	}

	created := nowZ()
	buildID := slug(fmt.Sprintf("%s-%s", req.ProfileID, created.Format("20060102T150405Z")))
	for i := 1; r.exists(buildID); i++ {
		buildID = slug(fmt.Sprintf("%s-%s-%d", req.ProfileID, created.Format("20060102T150405Z"), i))
	}

	build := &model.Build{
		BuildID:         buildID,
		State:           model.StateQueued,
		CreatedAt:       created,
		UpdatedAt:       created,
		Progress:        0,
		PhaseEvents:     []model.PhaseEvent{},
		Request:         req,
		CancelRequested: false,
	}
	if err := r.writeRecord(build); err != nil {
		return nil, false, err
	}
	if r.queue != nil {
		if _, err := r.queue.Enqueue(buildID); err != nil {
			return nil, false, err
		}
	}
	return build, true, nil
}

func (r *Registry) exists(buildID string) bool {
	_, err := os.Stat(r.path(buildID))
	return err == nil
}

// CancelBuild cancels a non-terminal build; see §4.3 for the
// queued-vs-running distinction. Returns false without error when the
// build was already terminal.
func (r *Registry) CancelBuild(buildID string) (bool, error) {
	b, err := r.readRecord(buildID)
	if err != nil {
		return false, err
	}
	switch b.State {
	case model.StateDone, model.StateFailed, model.StateCanceled:
		return false, nil
	case model.StateQueued:
		b.State = model.StateCanceled
		b.Message = "canceled"
		b.UpdatedAt = nowZ()
		if err := r.writeRecord(b); err != nil {
			return false, err
		}
		if r.queue != nil {
			if _, err := r.queue.Remove(buildID); err != nil {
				return false, err
			}
		}
		return true, nil
	case model.StateRunning:
		b.CancelRequested = true
		b.Message = "cancel_requested"
		b.UpdatedAt = nowZ()
		if err := r.writeRecord(b); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

// DeleteBuild removes a build's record and produced artifacts.
// Running builds must be canceled first.
func (r *Registry) DeleteBuild(buildID string) error {
	b, err := r.readRecord(buildID)
	if err != nil {
		return err
	}
	if b.State == model.StateRunning {
		return fmt.Errorf("%w: %q", ErrRunning, buildID)
	}

	if r.queue != nil {
		r.queue.Remove(buildID)
	}

	if b.Result != nil {
		for _, a := range b.Result.Artifacts {
			if a.Path == "" {
				continue
			}
			os.Remove(a.Path)
		}
	}
	if info, err := os.Stat(r.artifactDir(buildID)); err == nil && info.IsDir() {
		os.RemoveAll(r.artifactDir(buildID))
	}

	if err := os.Remove(r.path(buildID)); err != nil {
		return fmt.Errorf("buildregistry: remove %s: %w", r.path(buildID), err)
	}
	return nil
}

// ListBuildArtifacts returns the artifact metadata of a completed build.
func (r *Registry) ListBuildArtifacts(buildID string) ([]model.BuildArtifact, error) {
	b, err := r.readRecord(buildID)
	if err != nil {
		return nil, err
	}
	if b.State != model.StateDone {
		return nil, fmt.Errorf("%w: %q", ErrNotReady, buildID)
	}
	if b.Result == nil || len(b.Result.Artifacts) == 0 {
		return nil, fmt.Errorf("%w: no artifacts for %q", ErrNotFound, buildID)
	}
	return b.Result.Artifacts, nil
}

// GetBuildDownload returns the filesystem path to a completed build's artifact.
func (r *Registry) GetBuildDownload(buildID, artifactID string) (string, error) {
	b, err := r.readRecord(buildID)
	if err != nil {
		return "", err
	}
	if b.State != model.StateDone {
		return "", fmt.Errorf("%w: %q", ErrNotReady, buildID)
	}
	if b.Result != nil {
		for _, a := range b.Result.Artifacts {
			if a.ID == artifactID {
				if a.Path == "" {
					break
				}
				if _, err := os.Stat(a.Path); err != nil {
					return "", fmt.Errorf("%w: %q", ErrNotFound, artifactID)
				}
				return a.Path, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, artifactID)
}

// BuildLogsView is the response shape of GetBuildLogs.
type BuildLogsView struct {
	BuildID         string           `json:"build_id"`
	State           model.BuildState `json:"state"`
	Phase           string           `json:"phase,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
	StdoutPath      string           `json:"stdout_path,omitempty"`
	StderrPath      string           `json:"stderr_path,omitempty"`
	Stdout          string           `json:"stdout"`
	Stderr          string           `json:"stderr"`
	StdoutTruncated bool             `json:"stdout_truncated"`
	StderrTruncated bool             `json:"stderr_truncated"`
}

// GetBuildLogs returns the last limit characters (default
// model.DefaultLogViewLimit) of each log tail.
func (r *Registry) GetBuildLogs(buildID string, limit int) (*BuildLogsView, error) {
	b, err := r.readRecord(buildID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = model.DefaultLogViewLimit
	}
	view := &BuildLogsView{
		BuildID:   b.BuildID,
		State:     b.State,
		Phase:     b.Phase,
		UpdatedAt: b.UpdatedAt,
	}
	if b.Logs != nil {
		view.StdoutPath = b.Logs.StdoutPath
		view.StderrPath = b.Logs.StderrPath
		view.Stdout, view.StdoutTruncated = tail(b.Logs.StdoutTail, limit)
		view.Stderr, view.StderrTruncated = tail(b.Logs.StderrTail, limit)
	}
	return view, nil
}

func tail(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	return s[len(s)-limit:], true
}

// UpdateBuild merges partial fields into the stored record via the
// supplied mutator and persists the result; it refreshes updated_at
// unless apply itself set it. Callers (C6's runner, C5's callback
// plumbing) use this for every read-modify-write against a record.
func (r *Registry) UpdateBuild(buildID string, apply func(b *model.Build)) (*model.Build, error) {
	b, err := r.readRecord(buildID)
	if err != nil {
		return nil, err
	}
	before := b.UpdatedAt
	apply(b)
	if b.UpdatedAt.Equal(before) {
		b.UpdatedAt = nowZ()
	}
	if err := r.writeRecord(b); err != nil {
		return nil, err
	}
	return b, nil
}
