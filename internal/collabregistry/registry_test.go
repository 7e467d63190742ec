package collabregistry

import (
	"errors"
	"testing"

	"github.com/openwrt-builder/builder/internal/model"
)

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"Home AP!!":       "home-ap",
		"  leading/trail ": "leading-trail",
		"already-slug":     "already-slug",
		"a___b":            "a-b",
	}
	for in, want := range cases {
		if got := Slug(in); got != want {
			t.Errorf("Slug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProfilesRegistryCreateGetList(t *testing.T) {
	r := NewProfilesRegistry(t.TempDir())

	id, err := r.Create("home-ap", model.Profile{
		Name:    "Home AP",
		Lists:   []string{"base"},
		Files:   []string{"etc/config/network"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "home-ap" {
		t.Fatalf("got id %q, want %q", id, "home-ap")
	}

	got, err := r.Get("home-ap")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Home AP" || len(got.Lists) != 1 {
		t.Fatalf("got %+v", got)
	}

	all, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("List: got %d records, want 1", len(all))
	}
}

func TestProfilesRegistryGetMissing(t *testing.T) {
	r := NewProfilesRegistry(t.TempDir())
	_, err := r.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestProfilesRegistryInvalidID(t *testing.T) {
	r := NewProfilesRegistry(t.TempDir())
	_, err := r.Create("Not Valid!", model.Profile{})
	if !errors.Is(err, ErrInvalidID) {
		t.Fatalf("got %v, want ErrInvalidID", err)
	}
}

func TestProfilesRegistryGeneratesID(t *testing.T) {
	r := NewProfilesRegistry(t.TempDir())
	id, err := r.Create("", model.Profile{Name: "generated"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated non-empty ID")
	}
}

func TestListsRegistryCreateGet(t *testing.T) {
	r := NewListsRegistry(t.TempDir())
	id, err := r.Create("base", model.List{
		Name:    "Base packages",
		Include: []string{"luci", "dropbear"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Include) != 2 {
		t.Fatalf("got %+v", got)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	r := NewProfilesRegistry(t.TempDir())
	r.Create("p1", model.Profile{Name: "p1"})

	if err := r.Delete("p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
}
