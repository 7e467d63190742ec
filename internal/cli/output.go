package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// format is the output encoding requested via --format on every command.
var format string

// writeOutput encodes v as json (default) or yaml to w, per the
// --format flag.
func writeOutput(w io.Writer, v any) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("cli: unsupported --format %q (want json or yaml)", format)
	}
}
