// Package imagebuilder implements the ImageBuilder executor (C5):
// turning a validated build record into concrete firmware artifacts
// by driving OpenWrt's external Makefile-based ImageBuilder frontend
// as a child process, streaming its progress back through a callback.
package imagebuilder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/openwrt-builder/builder/internal/model"
	"github.com/openwrt-builder/builder/internal/profileresolver"
)

// Contract/operational errors surfaced as a failed build's message
// (see SPEC_FULL.md §6's "Executor-specific messages").
var (
	ErrUnsupportedHostArch    = errors.New("unsupported_host_arch")
	ErrWrapperMakefileMissing = errors.New("wrapper_makefile_missing")
	ErrSelectedFileNotFound   = errors.New("selected_file_not_found")
	ErrRequestedImageNotBuilt = errors.New("requested_image_not_built")
	ErrBuildCanceled          = errors.New("imagebuilder: build_canceled")
	ErrInvalidRequest         = errors.New("imagebuilder: invalid request")
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_.+-]+$`)

const (
	pollInterval     = 200 * time.Millisecond
	logChunkCap      = 8 * 1024
	progressInterval = 2 * time.Second
	progressCap      = 92
	sigtermGrace     = 5 * time.Second
	classifyTailLen  = 3000
)

// Update is one progress notification emitted to the runner during execution.
type Update struct {
	Progress    int
	Phase       string
	Message     string
	StdoutPath  string
	StderrPath  string
	StdoutChunk string
	StderrChunk string
	PhaseEvent  *model.PhaseEvent
}

// OnUpdate is the callback invoked for every Update; grounded on the
// teacher's BuildLogWriter/line-callback shape in
// internal/bitbake/executor.go, generalized from a line callback to a
// structured progress update.
type OnUpdate func(Update)

// CancelCheck reports whether the current build's cancel_requested
// flag has been set; the executor polls this rather than an OS signal.
type CancelCheck func() bool

// Executor drives the external make-based ImageBuilder frontend.
type Executor struct {
	buildsDir  string
	filesDir   string
	cacheDir   string
	wrapperDir string
	jobs       int
	resolver   *profileresolver.Resolver
}

// New returns an Executor rooted at the given directories, using
// jobs as the make -jN parallelism (falling back to runtime.NumCPU()
// when jobs <= 0).
func New(buildsDir, filesDir, cacheDir, wrapperDir string, jobs int, resolver *profileresolver.Resolver) *Executor {
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	return &Executor{
		buildsDir:  buildsDir,
		filesDir:   filesDir,
		cacheDir:   cacheDir,
		wrapperDir: wrapperDir,
		jobs:       jobs,
		resolver:   resolver,
	}
}

// Result is the executor's success payload.
type Result struct {
	Artifacts []model.BuildArtifact
}

func emit(cb OnUpdate, u Update) {
	if cb != nil {
		cb(u)
	}
}

func phaseEvent(phase string, progress int, message string) *model.PhaseEvent {
	return &model.PhaseEvent{At: time.Now().UTC(), Phase: phase, Progress: progress, Message: message}
}

// Execute runs the full build lifecycle for build, emitting progress
// via onUpdate and honoring cooperative cancellation via cancel.
func (e *Executor) Execute(ctx context.Context, build *model.Build, onUpdate OnUpdate, cancel CancelCheck) (*Result, error) {
	buildID := build.BuildID
	req := build.Request

	emit(onUpdate, Update{Progress: 6, Phase: "validating", Message: "validating", PhaseEvent: phaseEvent("validating", 6, "validating")})
	if err := e.validate(req); err != nil {
		emit(onUpdate, Update{Phase: "failed", Message: err.Error(), PhaseEvent: phaseEvent("failed", build.Progress, err.Error())})
		return nil, err
	}

	emit(onUpdate, Update{Progress: 12, Phase: "resolving_profile", Message: "resolving_profile", PhaseEvent: phaseEvent("resolving_profile", 12, "resolving_profile")})
	resolved, err := e.resolver.Resolve(req.ProfileID)
	if err != nil {
		emit(onUpdate, Update{Phase: "failed", Message: err.Error(), PhaseEvent: phaseEvent("failed", build.Progress, err.Error())})
		return nil, err
	}

	emit(onUpdate, Update{Progress: 20, Phase: "preparing", Message: "preparing", PhaseEvent: phaseEvent("preparing", 20, "preparing")})
	buildRoot := filepath.Join(e.buildsDir, buildID)
	logsDir := filepath.Join(buildRoot, "logs")
	wrapperConfig := filepath.Join(buildRoot, "wrapper-config")
	filesOut := filepath.Join(wrapperConfig, "files")

	cleanup := func() {
		e.cleanupWorkspace(wrapperConfig)
	}
	defer cleanup()

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("imagebuilder: mkdir logs: %w", err)
	}
	if err := os.MkdirAll(filesOut, 0o755); err != nil {
		return nil, fmt.Errorf("imagebuilder: mkdir wrapper-config/files: %w", err)
	}
	if err := writeConfigMk(wrapperConfig, req, resolved); err != nil {
		return nil, err
	}
	if err := e.copySelectedFiles(resolved.SelectedFiles, filesOut); err != nil {
		emit(onUpdate, Update{Phase: "failed", Message: err.Error(), PhaseEvent: phaseEvent("failed", build.Progress, err.Error())})
		return nil, err
	}

	stdoutPath := filepath.Join(logsDir, "stdout.log")
	stderrPath := filepath.Join(logsDir, "stderr.log")
	if err := truncateFile(stdoutPath); err != nil {
		return nil, err
	}
	if err := truncateFile(stderrPath); err != nil {
		return nil, err
	}

	emit(onUpdate, Update{Progress: 24, Phase: "building", Message: "building", StdoutPath: stdoutPath, StderrPath: stderrPath, PhaseEvent: phaseEvent("building", 24, "building")})

	cmd := e.buildCommand(wrapperConfig, req)
	stdoutFile, err := os.Create(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("imagebuilder: create stdout log: %w", err)
	}
	defer stdoutFile.Close()
	stderrFile, err := os.Create(stderrPath)
	if err != nil {
		return nil, fmt.Errorf("imagebuilder: create stderr log: %w", err)
	}
	defer stderrFile.Close()
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("imagebuilder: start make: %w", err)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	waitErr := e.monitor(cmd, waitDone, stdoutPath, stderrPath, onUpdate, cancel)

	if waitErr != nil {
		if errors.Is(waitErr, ErrBuildCanceled) {
			killProcessGroup(cmd, waitDone)
			return nil, waitErr
		}
		classified := classifyFailure(stdoutPath, stderrPath, waitErr)
		emit(onUpdate, Update{Phase: "failed", Message: classified.Error(), PhaseEvent: phaseEvent("failed", build.Progress, classified.Error())})
		return nil, classified
	}

	emit(onUpdate, Update{Progress: 95, Phase: "collecting_artifacts", Message: "collecting_artifacts", PhaseEvent: phaseEvent("collecting_artifacts", 95, "collecting_artifacts")})
	artifacts, err := e.collectArtifacts(buildRoot, wrapperConfig, req)
	if err != nil {
		emit(onUpdate, Update{Phase: "failed", Message: err.Error(), PhaseEvent: phaseEvent("failed", build.Progress, err.Error())})
		return nil, err
	}

	emit(onUpdate, Update{Progress: 99, Phase: "finalizing", Message: "finalizing", PhaseEvent: phaseEvent("finalizing", 99, "finalizing")})
	return &Result{Artifacts: artifacts}, nil
}

func (e *Executor) validate(req model.BuildRequest) error {
	arch := runtime.GOARCH
	if arch != "amd64" {
		return fmt.Errorf("%w:%s:requires_x86_64", ErrUnsupportedHostArch, arch)
	}
	for name, val := range map[string]string{
		"version": req.Version, "platform": req.Platform, "target": req.Target,
		"subtarget": req.Subtarget, "profile_id": req.ProfileID,
	} {
		if !tokenRe.MatchString(val) {
			return fmt.Errorf("%w: %s %q", ErrInvalidRequest, name, val)
		}
	}
	if len(req.Options.OutputImages) == 0 {
		req.Options.OutputImages = []model.ImageKind{model.ImageSysupgrade}
	}
	if _, err := os.Stat(filepath.Join(e.wrapperDir, "Makefile")); err != nil {
		return ErrWrapperMakefileMissing
	}
	return nil
}

func writeConfigMk(wrapperConfig string, req model.BuildRequest, resolved *profileresolver.Resolved) error {
	var b strings.Builder
	fmt.Fprintf(&b, "RELEASE = %s\n", req.Version)
	fmt.Fprintf(&b, "TARGET = %s\n", req.Target)
	fmt.Fprintf(&b, "SUBTARGET = %s\n", req.Subtarget)
	fmt.Fprintf(&b, "PLATFORM = %s\n", req.Platform)
	fmt.Fprintf(&b, "PACKAGES_INCLUDE = %s\n", strings.Join(resolved.Include, " "))
	fmt.Fprintf(&b, "PACKAGES_EXCLUDE = %s\n", strings.Join(resolved.Exclude, " "))
	path := filepath.Join(wrapperConfig, "config.mk")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("imagebuilder: write config.mk: %w", err)
	}
	return nil
}

func (e *Executor) copySelectedFiles(selected []string, dstRoot string) error {
	for _, rel := range selected {
		src := filepath.Join(e.filesDir, rel)
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("%w:%s", ErrSelectedFileNotFound, rel)
		}
		dst := filepath.Join(dstRoot, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("imagebuilder: mkdir for %s: %w", rel, err)
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("imagebuilder: copy %s: %w", rel, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func truncateFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imagebuilder: truncate %s: %w", path, err)
	}
	return f.Close()
}

func (e *Executor) buildCommand(wrapperConfig string, req model.BuildRequest) *exec.Cmd {
	images := req.Options.OutputImages
	if len(images) == 0 {
		images = []model.ImageKind{model.ImageSysupgrade}
	}
	names := make([]string, len(images))
	for i, k := range images {
		names[i] = string(k)
	}
	argv := []string{
		fmt.Sprintf("-j%d", e.jobs),
		fmt.Sprintf("C=%s", wrapperConfig),
		fmt.Sprintf("CACHE=%s", filepath.Join(e.cacheDir, "imagebuilder", req.Version)),
		fmt.Sprintf("BUILDDIR_HINT_FILE=%s", filepath.Join(wrapperConfig, ".imgbuilder_builddir")),
		fmt.Sprintf("IMAGES=%s", strings.Join(names, " ")),
		"image",
	}
	if req.Options.Debug {
		argv = append(argv, "V=s")
	}
	cmd := exec.Command("make", argv...)
	cmd.Dir = e.wrapperDir
	cmd.Env = append(os.Environ(), "TMPDIR=/tmp", "TMP=/tmp", "TEMP=/tmp")
	return cmd
}

// monitor runs the 200ms progress-polling loop described in
// SPEC_FULL.md §4.5, streaming log chunks and progress bumps to
// onUpdate, and returns ErrBuildCanceled or the child's wait error.
func (e *Executor) monitor(cmd *exec.Cmd, waitDone chan error, stdoutPath, stderrPath string, onUpdate OnUpdate, cancel CancelCheck) error {
	var stdoutOffset, stderrOffset int64
	progress := 24
	lastBump := time.Now()

	for {
		select {
		case waitErr := <-waitDone:
			e.drainFinal(&stdoutOffset, stdoutPath, &stderrOffset, stderrPath, onUpdate)
			emit(onUpdate, Update{Progress: 93, Phase: "building", Message: "building"})
			return waitErr
		case <-time.After(pollInterval):
			if cancel != nil && cancel() {
				return ErrBuildCanceled
			}
			stdoutChunk := readChunk(stdoutPath, &stdoutOffset)
			stderrChunk := readChunk(stderrPath, &stderrOffset)
			bumped := false
			if time.Since(lastBump) >= progressInterval && progress < progressCap {
				progress++
				lastBump = time.Now()
				bumped = true
			}
			if stdoutChunk != "" || stderrChunk != "" || bumped {
				emit(onUpdate, Update{
					Progress:    progress,
					Phase:       "building",
					Message:     "building",
					StdoutChunk: stdoutChunk,
					StderrChunk: stderrChunk,
				})
			}
		}
	}
}

func (e *Executor) drainFinal(stdoutOffset *int64, stdoutPath string, stderrOffset *int64, stderrPath string, onUpdate OnUpdate) {
	stdoutChunk := readChunk(stdoutPath, stdoutOffset)
	stderrChunk := readChunk(stderrPath, stderrOffset)
	if stdoutChunk != "" || stderrChunk != "" {
		emit(onUpdate, Update{StdoutChunk: stdoutChunk, StderrChunk: stderrChunk})
	}
}

// readChunk reads up to logChunkCap new bytes from path starting at
// *offset, decoding as UTF-8 with replacement for invalid sequences.
func readChunk(path string, offset *int64) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	if _, err := f.Seek(*offset, io.SeekStart); err != nil {
		return ""
	}
	buf := make([]byte, logChunkCap)
	n, _ := f.Read(buf)
	if n <= 0 {
		return ""
	}
	*offset += int64(n)
	return strings.ToValidUTF8(string(buf[:n]), "�")
}

// killProcessGroup escalates SIGTERM to SIGKILL against cmd's process
// group, waiting on the goroutine that already owns cmd.Wait() rather
// than calling it again (which panics on a second call).
func killProcessGroup(cmd *exec.Cmd, waitDone chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := cmd.Process.Pid
	syscall.Kill(-pgid, syscall.SIGTERM)
	select {
	case <-waitDone:
	case <-time.After(sigtermGrace):
		syscall.Kill(-pgid, syscall.SIGKILL)
		<-waitDone
	}
}

// classifyFailure scans the last classifyTailLen characters of each
// log against the ordered patterns in SPEC_FULL.md §4.5, grounded on
// internal/bitbake/executor.go's extractFailedRecipe.
func classifyFailure(stdoutPath, stderrPath string, waitErr error) error {
	stdoutTail := readTail(stdoutPath, classifyTailLen)
	stderrTail := readTail(stderrPath, classifyTailLen)
	combined := stderrTail + "\n" + stdoutTail

	noSpaceRe := regexp.MustCompile(`(?i)No space left on device`)
	tooBigRe := regexp.MustCompile(`is too big:\s*(\d+)\s*>\s*(\d+)`)

	switch {
	case noSpaceRe.MatchString(combined):
		return errors.New("no_space_left")
	case tooBigRe.MatchString(combined):
		m := tooBigRe.FindStringSubmatch(combined)
		return fmt.Errorf("image_too_big:built=%s:max=%s", m[1], m[2])
	case strings.Contains(combined, "curl: ("),
		strings.Contains(combined, "The requested URL returned error"),
		strings.Contains(combined, "Failed to connect to"),
		strings.Contains(combined, "Could not resolve host"):
		return errors.New("imagebuilder_download_failed")
	case strings.Contains(combined, "Unknown package"),
		strings.Contains(combined, "conflicts with"),
		strings.Contains(combined, "check_data_file_clashes"),
		strings.Contains(combined, "Collected errors"):
		return errors.New("package_conflict_or_not_found")
	}

	trimmed := strings.TrimSpace(stderrTail)
	if trimmed != "" {
		return errors.New(trimmed)
	}
	trimmed = strings.TrimSpace(stdoutTail)
	if trimmed != "" {
		return errors.New(trimmed)
	}
	return fmt.Errorf("make_failed:%s", exitCodeOf(waitErr))
}

func exitCodeOf(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Sprintf("%d", exitErr.ExitCode())
	}
	return "unknown"
}

func readTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	s := string(data)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// collectArtifacts expects one squashfs image file per requested
// output kind, per SPEC_FULL.md §4.5's naming convention, and copies
// each into buildRoot; grounded on apps/daemon/internal/artifacts's
// per-build artifact-path layout.
func (e *Executor) collectArtifacts(buildRoot, wrapperConfig string, req model.BuildRequest) ([]model.BuildArtifact, error) {
	images := req.Options.OutputImages
	if len(images) == 0 {
		images = []model.ImageKind{model.ImageSysupgrade}
	}
	var artifacts []model.BuildArtifact
	havePrimary := false
	for _, kind := range images {
		name := fmt.Sprintf("openwrt-%s-%s-%s-%s-squashfs-%s.bin", req.Version, req.Target, req.Subtarget, req.Platform, kind)
		src := filepath.Join(wrapperConfig, name)
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("%w:%s", ErrRequestedImageNotBuilt, kind)
		}
		dst := filepath.Join(buildRoot, name)
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("imagebuilder: copy artifact %s: %w", name, err)
		}
		role := model.RoleOptional
		if kind == model.ImageSysupgrade {
			role = model.RolePrimary
			havePrimary = true
		}
		artifacts = append(artifacts, model.BuildArtifact{
			ID:   string(kind),
			Name: name,
			Path: dst,
			Size: info.Size(),
			Type: model.ArtifactFirmware,
			Role: role,
		})
	}
	if !havePrimary && len(artifacts) > 0 {
		artifacts[0].Role = model.RolePrimary
	}
	return artifacts, nil
}

// cleanupWorkspace implements §4.5's always-run cleanup: remove the
// hinted imgbldr-* build directory (if any) and the wrapper-config tree.
func (e *Executor) cleanupWorkspace(wrapperConfig string) {
	hintPath := filepath.Join(wrapperConfig, ".imgbuilder_builddir")
	if data, err := os.ReadFile(hintPath); err == nil {
		dir := strings.TrimSpace(string(data))
		if dir != "" && strings.HasPrefix(filepath.Base(dir), "imgbldr-") {
			os.RemoveAll(dir)
		}
	}
	os.RemoveAll(wrapperConfig)
}
