package buildregistry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openwrt-builder/builder/internal/collabregistry"
	"github.com/openwrt-builder/builder/internal/model"
	"github.com/openwrt-builder/builder/internal/queue"
)

func setup(t *testing.T) (*Registry, *queue.Queue) {
	t.Helper()
	profiles := collabregistry.NewProfilesRegistry(t.TempDir())
	if _, err := profiles.Create("home-ap", model.Profile{Name: "Home AP"}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	q := queue.New(filepath.Join(t.TempDir(), "queue.json"))
	r := New(t.TempDir(), profiles, q)
	return r, q
}

func baseRequest() model.BuildRequest {
	return model.BuildRequest{
		ProfileID: "home-ap",
		Platform:  "ath79",
		Target:    "generic",
		Subtarget: "generic",
		Version:   "23.05.2",
	}
}

func TestCreateBuildEnqueuesAndValidatesProfile(t *testing.T) {
	r, q := setup(t)

	build, created, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if !created {
		t.Fatal("expected created = true")
	}
	if build.State != model.StateQueued {
		t.Fatalf("got state %q, want queued", build.State)
	}
	if len(build.Request.Options.OutputImages) != 1 || build.Request.Options.OutputImages[0] != model.ImageSysupgrade {
		t.Fatalf("expected default output_images, got %v", build.Request.Options.OutputImages)
	}

	items, err := q.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0] != build.BuildID {
		t.Fatalf("queue = %v, want [%s]", items, build.BuildID)
	}
}

func TestCreateBuildUnknownProfile(t *testing.T) {
	r, _ := setup(t)
	req := baseRequest()
	req.ProfileID = "nope"
	if _, _, err := r.CreateBuild(req); !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("got %v, want ErrProfileNotFound", err)
	}
}

func TestCreateBuildInvalidToken(t *testing.T) {
	r, _ := setup(t)
	req := baseRequest()
	req.Platform = "bad platform"
	if _, _, err := r.CreateBuild(req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
}

func TestCreateBuildDedupOnlyAgainstDone(t *testing.T) {
	r, _ := setup(t)

	first, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	second, created, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if !created || second.BuildID == first.BuildID {
		t.Fatalf("expected a distinct new build while first is still queued, got created=%v id=%s", created, second.BuildID)
	}

	if _, err := r.UpdateBuild(first.BuildID, func(b *model.Build) {
		b.State = model.StateDone
		b.Result = &model.BuildResult{}
	}); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	third, created, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if created {
		t.Fatal("expected reuse of the done build, got created = true")
	}
	if third.BuildID != first.BuildID {
		t.Fatalf("got %q, want reuse of %q", third.BuildID, first.BuildID)
	}
}

func TestCreateBuildForceRebuildBypassesDedup(t *testing.T) {
	r, _ := setup(t)

	first, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if _, err := r.UpdateBuild(first.BuildID, func(b *model.Build) {
		b.State = model.StateDone
		b.Result = &model.BuildResult{}
	}); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	req := baseRequest()
	req.Options.ForceRebuild = true
	second, created, err := r.CreateBuild(req)
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if !created || second.BuildID == first.BuildID {
		t.Fatalf("expected force_rebuild to bypass reuse, got created=%v id=%s", created, second.BuildID)
	}
}

func TestCancelQueuedBuildRemovesFromQueue(t *testing.T) {
	r, q := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	ok, err := r.CancelBuild(build.BuildID)
	if err != nil || !ok {
		t.Fatalf("CancelBuild: ok=%v err=%v", ok, err)
	}

	got, err := r.GetBuild(build.BuildID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.State != model.StateCanceled {
		t.Fatalf("got state %q, want canceled", got.State)
	}

	items, _ := q.List()
	if len(items) != 0 {
		t.Fatalf("queue = %v, want empty", items)
	}
}

func TestCancelRunningBuildSetsFlagNotState(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if _, err := r.UpdateBuild(build.BuildID, func(b *model.Build) { b.State = model.StateRunning }); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	ok, err := r.CancelBuild(build.BuildID)
	if err != nil || !ok {
		t.Fatalf("CancelBuild: ok=%v err=%v", ok, err)
	}
	got, err := r.GetBuild(build.BuildID)
	if err != nil {
		t.Fatalf("GetBuild: %v", err)
	}
	if got.State != model.StateRunning || !got.CancelRequested {
		t.Fatalf("got state=%q cancel_requested=%v, want running/true", got.State, got.CancelRequested)
	}
}

func TestCancelTerminalBuildIsNoop(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if _, err := r.UpdateBuild(build.BuildID, func(b *model.Build) { b.State = model.StateDone }); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	ok, err := r.CancelBuild(build.BuildID)
	if err != nil {
		t.Fatalf("CancelBuild: %v", err)
	}
	if ok {
		t.Fatal("expected CancelBuild on a terminal build to return false")
	}
}

func TestDeleteRunningBuildFails(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if _, err := r.UpdateBuild(build.BuildID, func(b *model.Build) { b.State = model.StateRunning }); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	if err := r.DeleteBuild(build.BuildID); !errors.Is(err, ErrRunning) {
		t.Fatalf("got %v, want ErrRunning", err)
	}
}

func TestDeleteQueuedBuildSucceeds(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if err := r.DeleteBuild(build.BuildID); err != nil {
		t.Fatalf("DeleteBuild: %v", err)
	}
	if _, err := r.GetBuild(build.BuildID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListBuildArtifactsNotReady(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	if _, err := r.ListBuildArtifacts(build.BuildID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("got %v, want ErrNotReady", err)
	}
}

func TestGetBuildLogsDefaultsLimitAndReportsTruncation(t *testing.T) {
	r, _ := setup(t)
	build, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	longTail := make([]byte, model.DefaultLogViewLimit+500)
	for i := range longTail {
		longTail[i] = 'x'
	}
	if _, err := r.UpdateBuild(build.BuildID, func(b *model.Build) {
		b.Logs = &model.BuildLogs{StdoutTail: string(longTail), StderrTail: "short"}
	}); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}

	view, err := r.GetBuildLogs(build.BuildID, 0)
	if err != nil {
		t.Fatalf("GetBuildLogs: %v", err)
	}
	if !view.StdoutTruncated {
		t.Fatal("expected stdout truncation")
	}
	if len(view.Stdout) != model.DefaultLogViewLimit {
		t.Fatalf("got stdout len %d, want %d", len(view.Stdout), model.DefaultLogViewLimit)
	}
	if view.StderrTruncated {
		t.Fatal("did not expect stderr truncation")
	}
}

func TestListBuildsSortsByUpdatedAtAndSkipsMalformed(t *testing.T) {
	r, _ := setup(t)
	b1, _, err := r.CreateBuild(baseRequest())
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}
	req2 := baseRequest()
	req2.Version = "23.05.3"
	b2, _, err := r.CreateBuild(req2)
	if err != nil {
		t.Fatalf("CreateBuild: %v", err)
	}

	if _, err := r.UpdateBuild(b2.BuildID, func(b *model.Build) {}); err != nil {
		t.Fatalf("UpdateBuild: %v", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	builds, err := r.ListBuilds()
	if err != nil {
		t.Fatalf("ListBuilds: %v", err)
	}
	if len(builds) != 2 {
		t.Fatalf("got %d builds, want 2", len(builds))
	}
	if builds[0].BuildID != b1.BuildID || builds[1].BuildID != b2.BuildID {
		t.Fatalf("got order %v, want [%s %s]", []string{builds[0].BuildID, builds[1].BuildID}, b1.BuildID, b2.BuildID)
	}
}
