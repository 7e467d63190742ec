package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/openwrt-builder/builder/internal/buildregistry"
)

type sample struct {
	Name string `json:"name" yaml:"name"`
}

var errPlainForTest = errors.New("make_failed:1")

func TestWriteOutputDefaultsToJSON(t *testing.T) {
	format = ""
	defer func() { format = "" }()

	var buf bytes.Buffer
	if err := writeOutput(&buf, sample{Name: "home-ap"}); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}
	var decoded sample
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("expected JSON, got %q: %v", buf.String(), err)
	}
	if decoded.Name != "home-ap" {
		t.Fatalf("got %+v", decoded)
	}
}

func TestWriteOutputYAML(t *testing.T) {
	format = "yaml"
	defer func() { format = "" }()

	var buf bytes.Buffer
	if err := writeOutput(&buf, sample{Name: "home-ap"}); err != nil {
		t.Fatalf("writeOutput: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected non-empty yaml output")
	}
}

func TestWriteOutputRejectsUnknownFormat(t *testing.T) {
	format = "xml"
	defer func() { format = "" }()

	var buf bytes.Buffer
	if err := writeOutput(&buf, sample{}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestExitCodeForContractErrorsIsOne(t *testing.T) {
	if got := exitCodeFor(buildregistry.ErrInvalidRequest); got != 1 {
		t.Fatalf("got exit code %d, want 1", got)
	}
}

func TestExitCodeForOperationalErrorsIsTwo(t *testing.T) {
	if got := exitCodeFor(errPlainForTest); got != 2 {
		t.Fatalf("got exit code %d, want 2", got)
	}
}
