package imagebuilder

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openwrt-builder/builder/internal/collabregistry"
	"github.com/openwrt-builder/builder/internal/model"
	"github.com/openwrt-builder/builder/internal/profileresolver"
)

func newExecutor(t *testing.T, wrapperDir string) *Executor {
	t.Helper()
	profiles := collabregistry.NewProfilesRegistry(t.TempDir())
	lists := collabregistry.NewListsRegistry(t.TempDir())
	if _, err := profiles.Create("home-ap", model.Profile{ExtraInclude: []string{"luci"}}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	resolver := profileresolver.New(profiles, lists)
	return New(t.TempDir(), t.TempDir(), t.TempDir(), wrapperDir, 1, resolver)
}

func baseBuild() *model.Build {
	return &model.Build{
		BuildID: "home-ap-20260101t000000z",
		State:   model.StateQueued,
		Request: model.BuildRequest{
			ProfileID: "home-ap",
			Platform:  "ath79",
			Target:    "generic",
			Subtarget: "generic",
			Version:   "23.05.2",
			Options:   model.BuildOptions{OutputImages: []model.ImageKind{model.ImageSysupgrade}},
		},
	}
}

func TestValidateMissingMakefileFails(t *testing.T) {
	exec := newExecutor(t, t.TempDir())
	if err := exec.validate(baseBuild().Request); !errors.Is(err, ErrWrapperMakefileMissing) {
		t.Fatalf("got %v, want ErrWrapperMakefileMissing", err)
	}
}

func TestValidateRejectsBadToken(t *testing.T) {
	wrapperDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(wrapperDir, "Makefile"), []byte("image:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := newExecutor(t, wrapperDir)
	req := baseBuild().Request
	req.Target = "bad target"
	if err := exec.validate(req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}

func TestWriteConfigMkContent(t *testing.T) {
	wrapperConfig := t.TempDir()
	resolved := &profileresolver.Resolved{Include: []string{"luci", "dropbear"}, Exclude: []string{"ppp"}}
	req := baseBuild().Request
	if err := writeConfigMk(wrapperConfig, req, resolved); err != nil {
		t.Fatalf("writeConfigMk: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(wrapperConfig, "config.mk"))
	if err != nil {
		t.Fatalf("read config.mk: %v", err)
	}
	content := string(data)
	for _, want := range []string{"RELEASE = 23.05.2", "TARGET = generic", "PLATFORM = ath79", "PACKAGES_INCLUDE = luci dropbear", "PACKAGES_EXCLUDE = ppp"} {
		if !strings.Contains(content, want) {
			t.Fatalf("config.mk missing %q, got:\n%s", want, content)
		}
	}
}

func TestCopySelectedFilesMissingSourceFails(t *testing.T) {
	exec := newExecutor(t, t.TempDir())
	dst := t.TempDir()
	if err := exec.copySelectedFiles([]string{"etc/config/network"}, dst); !errors.Is(err, ErrSelectedFileNotFound) {
		t.Fatalf("got %v, want ErrSelectedFileNotFound", err)
	}
}

func TestCopySelectedFilesPreservesRelativePath(t *testing.T) {
	filesDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(filesDir, "etc/config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(filesDir, "etc/config/network"), []byte("config interface lan\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	exec := New(t.TempDir(), filesDir, t.TempDir(), t.TempDir(), 1, nil)
	dst := t.TempDir()
	if err := exec.copySelectedFiles([]string{"etc/config/network"}, dst); err != nil {
		t.Fatalf("copySelectedFiles: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "etc/config/network")); err != nil {
		t.Fatalf("expected copied file: %v", err)
	}
}

func TestClassifyFailureOrderedPatterns(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")

	cases := []struct {
		name   string
		stderr string
		want   string
	}{
		{"no space", "mkfs: No space left on device\n", "no_space_left"},
		{"too big", "image is too big: 5242880 > 4194304\n", "image_too_big:built=5242880:max=4194304"},
		{"download", "curl: (7) Failed to connect to example.org\n", "imagebuilder_download_failed"},
		{"conflict", "Unknown package 'foo'\nCollected errors:\n", "package_conflict_or_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := os.WriteFile(stdoutPath, []byte(""), 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(stderrPath, []byte(tc.stderr), 0o644); err != nil {
				t.Fatal(err)
			}
			err := classifyFailure(stdoutPath, stderrPath, errors.New("exit status 1"))
			if err.Error() != tc.want {
				t.Fatalf("got %q, want %q", err.Error(), tc.want)
			}
		})
	}
}

func TestClassifyFailureFallsBackToTail(t *testing.T) {
	dir := t.TempDir()
	stdoutPath := filepath.Join(dir, "stdout.log")
	stderrPath := filepath.Join(dir, "stderr.log")
	if err := os.WriteFile(stdoutPath, []byte(""), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stderrPath, []byte("some unrelated failure\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := classifyFailure(stdoutPath, stderrPath, errors.New("exit status 1"))
	if err.Error() != "some unrelated failure" {
		t.Fatalf("got %q", err.Error())
	}
}

func TestCollectArtifactsPromotesFirstToPrimaryWhenNoSysupgrade(t *testing.T) {
	exec := newExecutor(t, t.TempDir())
	buildRoot := t.TempDir()
	wrapperConfig := t.TempDir()
	name := "openwrt-23.05.2-generic-generic-ath79-squashfs-factory.bin"
	if err := os.WriteFile(filepath.Join(wrapperConfig, name), []byte("firmware-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	req := baseBuild().Request
	req.Options.OutputImages = []model.ImageKind{model.ImageFactory}

	artifacts, err := exec.collectArtifacts(buildRoot, wrapperConfig, req)
	if err != nil {
		t.Fatalf("collectArtifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Role != model.RolePrimary {
		t.Fatalf("got %+v, want single promoted-primary artifact", artifacts)
	}
}

func TestCollectArtifactsMissingFileFails(t *testing.T) {
	exec := newExecutor(t, t.TempDir())
	_, err := exec.collectArtifacts(t.TempDir(), t.TempDir(), baseBuild().Request)
	if !errors.Is(err, ErrRequestedImageNotBuilt) {
		t.Fatalf("got %v, want ErrRequestedImageNotBuilt", err)
	}
}
