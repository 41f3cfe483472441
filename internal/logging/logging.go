// Package logging wraps github.com/charmbracelet/log, replacing the
// teacher's custom dw_printf/text_color_set CSV logger (src/log.go) with
// the structured, leveled logger declared in its go.mod but never
// imported by its source.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

var root = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05.000",
})

// SetOutput redirects every logger's output, e.g. to a configured log
// file (spec section 6, "log file").
func SetOutput(w io.Writer) {
	root.SetOutput(w)
}

// SetLevelName parses one of "debug", "info", "warn", "error" and applies
// it, defaulting to info on an unrecognized name.
func SetLevelName(name string) {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		lvl = log.InfoLevel
	}
	root.SetLevel(lvl)
}

// For returns a named sub-logger (e.g. "link", "channel", "eventloop"),
// mirroring the per-subsystem prefixes the teacher's dw_printf call sites
// conventionally carried.
func For(name string) *log.Logger {
	return root.With("component", name)
}
