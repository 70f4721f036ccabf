// Package nodejs locates the npx runtime that launches the public
// exposure helper. Downloading a portable runtime is handled elsewhere;
// this package only answers "which npx do I run".
package nodejs

import (
	"errors"
	"os"
	"os/exec"

	"wtunnel/pkg/config"
)

// ErrNpxNotFound means neither PATH nor a bundled install can provide
// npx; the user has to install Node.js or run without --public.
var ErrNpxNotFound = errors.New("npx not found: install Node.js (which includes npm/npx) or run without --public")

// Locator resolves the npx executable. The manager depends on this
// interface so tests never shell out.
type Locator interface {
	Npx() (string, error)
}

// PathLocator checks PATH first, then a bundled runtime recorded in the
// config from a previous install.
type PathLocator struct {
	Bundled config.BundledNode
}

func (l PathLocator) Npx() (string, error) {
	if path, err := exec.LookPath("npx"); err == nil {
		return path, nil
	}
	if l.Bundled.NpxPath != "" {
		if _, err := os.Stat(l.Bundled.NpxPath); err == nil {
			return l.Bundled.NpxPath, nil
		}
	}
	return "", ErrNpxNotFound
}
