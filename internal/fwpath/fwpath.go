// Package fwpath locates the flash-programmer helper image on the
// host filesystem. It is the external collaborator spec.md §6
// describes: the core only ever consumes a single path-or-error
// result from it. The probing strategy — an environment variable
// override, else a cached ordered candidate-path walk — follows the
// same layering as internal/config's Load: env wins, else probe, then
// cache.
package fwpath

import (
	"os"
	"path/filepath"
)

// EnvOverride is checked before any candidate path is probed.
const EnvOverride = "FX3_FLASH_PROG"

// candidates is the ordered list of paths probed relative to the
// current working directory when EnvOverride isn't set.
var candidates = []string{
	"fx3flash-prog.img",
	"firmware/fx3flash-prog.img",
	filepath.Join("fx3", "fx3-programmer", "fx3flash-prog.img"),
}

var (
	cached      string
	cachedFound bool
	loaded      bool
)

// Locate returns the first regular file found, env override first,
// else the candidate list in order. The result is cached after the
// first call.
func Locate() (string, bool) {
	if loaded {
		return cached, cachedFound
	}

	if p := os.Getenv(EnvOverride); p != "" {
		cached, cachedFound = p, isRegularFile(p)
		loaded = true
		return cached, cachedFound
	}

	for _, c := range candidates {
		if isRegularFile(c) {
			cached, cachedFound = c, true
			loaded = true
			return cached, cachedFound
		}
	}

	loaded = true
	return "", false
}

func isRegularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
