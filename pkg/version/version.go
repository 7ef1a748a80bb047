package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the build version without surrounding whitespace
func Get() string {
	return strings.TrimSpace(raw)
}
