// Package out writes command results for humans or, with --json, for
// scripts.
package out

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteError reports err as `{"error": "..."}` in JSON mode and as a plain
// line otherwise.
func WriteError(w io.Writer, asJSON bool, err error) error {
	if err == nil {
		return nil
	}
	if asJSON {
		return WriteJSON(w, map[string]any{"error": err.Error()})
	}
	msg := strings.TrimSpace(err.Error())
	_, werr := fmt.Fprintf(w, "error: %s\n", msg)
	return werr
}
