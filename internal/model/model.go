// Package model holds the JSON-persisted record shapes shared across
// the build registry, the queue, the profile resolver, and the
// executor/runner pipeline.
package model

import "time"

// BuildState is the lifecycle state of a build record.
type BuildState string

const (
	StateQueued   BuildState = "queued"
	StateRunning  BuildState = "running"
	StateDone     BuildState = "done"
	StateFailed   BuildState = "failed"
	StateCanceled BuildState = "canceled"
)

// IsTerminal reports whether s is one of the terminal states.
func (s BuildState) IsTerminal() bool {
	switch s {
	case StateDone, StateFailed, StateCanceled:
		return true
	default:
		return false
	}
}

// ImageKind identifies one of the output image flavors OpenWrt's
// ImageBuilder can produce.
type ImageKind string

const (
	ImageSysupgrade ImageKind = "sysupgrade"
	ImageFactory    ImageKind = "factory"
)

// ArtifactType classifies a produced artifact.
type ArtifactType string

const (
	ArtifactFirmware ArtifactType = "firmware"
	ArtifactMetadata ArtifactType = "metadata"
)

// ArtifactRole distinguishes the primary deliverable from secondary files.
type ArtifactRole string

const (
	RolePrimary  ArtifactRole = "primary"
	RoleOptional ArtifactRole = "optional"
	RoleChecksum ArtifactRole = "checksum"
	RoleManifest ArtifactRole = "manifest"
)

// BuildOptions is the normalizable portion of a build request.
type BuildOptions struct {
	ForceRebuild bool        `json:"force_rebuild"`
	Debug        bool        `json:"debug"`
	OutputImages []ImageKind `json:"output_images"`
}

// BuildRequest is the payload submitted to create_build, and is
// persisted verbatim on the resulting record.
type BuildRequest struct {
	ProfileID string       `json:"profile_id"`
	Platform  string       `json:"platform"`
	Target    string       `json:"target"`
	Subtarget string       `json:"subtarget"`
	Version   string       `json:"version"`
	Options   BuildOptions `json:"options"`
}

// BuildArtifact is one file produced by a successful build.
type BuildArtifact struct {
	ID   string       `json:"id"`
	Name string       `json:"name"`
	Path string       `json:"path"`
	Size int64        `json:"size"`
	Type ArtifactType `json:"type"`
	Role ArtifactRole `json:"role"`
}

// BuildResult is the terminal success payload of a build.
type BuildResult struct {
	Artifacts []BuildArtifact `json:"artifacts"`
}

// PhaseEvent is one entry in a build's append-only phase history.
type PhaseEvent struct {
	At       time.Time `json:"at"`
	Phase    string    `json:"phase"`
	Progress int       `json:"progress"`
	Message  string    `json:"message,omitempty"`
}

// MaxPhaseEvents is the cap on a record's phase_events length.
const MaxPhaseEvents = 64

// LogTailCap bounds each of stdout_tail/stderr_tail in characters.
const LogTailCap = 32000

// DefaultLogViewLimit is the default `limit` for get_build_logs.
const DefaultLogViewLimit = 20000

// BuildLogs holds references and bounded tails of the build's log files.
type BuildLogs struct {
	StdoutPath string     `json:"stdout_path,omitempty"`
	StderrPath string     `json:"stderr_path,omitempty"`
	StdoutTail string     `json:"stdout_tail"`
	StderrTail string     `json:"stderr_tail"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// Build is one persisted build record, keyed by BuildID.
type Build struct {
	BuildID         string       `json:"build_id"`
	State           BuildState   `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Progress        int          `json:"progress"`
	Message         string       `json:"message,omitempty"`
	Phase           string       `json:"phase,omitempty"`
	PhaseEvents     []PhaseEvent `json:"phase_events"`
	Logs            *BuildLogs   `json:"logs,omitempty"`
	Request         BuildRequest `json:"request"`
	Result          *BuildResult `json:"result,omitempty"`
	CancelRequested bool         `json:"cancel_requested"`
	RunnerPID       *int         `json:"runner_pid,omitempty"`
}

// Clone returns a defensive deep copy of b, guarding against aliasing
// across registry/queue/executor boundaries (see SPEC_FULL.md §9).
func (b *Build) Clone() *Build {
	if b == nil {
		return nil
	}
	out := *b
	out.PhaseEvents = append([]PhaseEvent(nil), b.PhaseEvents...)
	out.Request.Options.OutputImages = append([]ImageKind(nil), b.Request.Options.OutputImages...)
	if b.Logs != nil {
		l := *b.Logs
		out.Logs = &l
	}
	if b.Result != nil {
		r := *b.Result
		r.Artifacts = append([]BuildArtifact(nil), b.Result.Artifacts...)
		out.Result = &r
	}
	if b.RunnerPID != nil {
		pid := *b.RunnerPID
		out.RunnerPID = &pid
	}
	return &out
}

// AppendPhaseEvent appends ev, dropping the oldest entry if the
// MaxPhaseEvents cap would otherwise be exceeded.
func (b *Build) AppendPhaseEvent(ev PhaseEvent) {
	b.PhaseEvents = append(b.PhaseEvents, ev)
	if len(b.PhaseEvents) > MaxPhaseEvents {
		b.PhaseEvents = b.PhaseEvents[len(b.PhaseEvents)-MaxPhaseEvents:]
	}
}

// Queue is the persisted FIFO document owned by the queue package.
type Queue struct {
	Items     []string  `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Profile is a collaborator record referenced by the profile resolver.
type Profile struct {
	Name          string    `json:"name"`
	SchemaVersion int       `json:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
	ProfileID     string    `json:"profile_id,omitempty"`
	Lists         []string  `json:"lists"`
	ExtraInclude  []string  `json:"extra_include"`
	ExtraExclude  []string  `json:"extra_exclude"`
	Files         []string  `json:"files"`
}

// List is a collaborator record holding a named include/exclude pair.
type List struct {
	Name          string    `json:"name"`
	SchemaVersion int       `json:"schema_version"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
	ListID        string    `json:"list_id,omitempty"`
	Include       []string  `json:"include"`
	Exclude       []string  `json:"exclude"`
}

// FileDescriptor maps an uploaded source file to its destination
// within the wrapper-config files tree.
type FileDescriptor struct {
	ID         string `json:"id"`
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

// FileDescriptorsIndex is the persisted `.descriptors.json` document.
type FileDescriptorsIndex struct {
	SchemaVersion int              `json:"schema_version"`
	Files         []FileDescriptor `json:"files"`
}

// FileRow is an expanded, listing-friendly view of one file descriptor.
type FileRow struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	TargetPath string    `json:"target_path"`
	Size       int64     `json:"size"`
	UpdatedAt  time.Time `json:"updated_at"`
}
