// Package clipboard integrates the sync engine with the OS clipboard. The
// engine only depends on the Clipboard interface; the concrete backends
// shell out to the platform clipboard tools.
package clipboard

import "errors"

// Content is one clipboard value: plain text plus its rich/HTML variant.
type Content struct {
	Plain string
	HTML  string
}

// ErrUnavailable means no clipboard backend could be initialized. It is one
// of the few fatal startup conditions for the client.
var ErrUnavailable = errors.New("no clipboard backend available")

// Clipboard reads and writes the OS clipboard. Write applies both variants
// as one value from the OS's perspective.
type Clipboard interface {
	Read() (Content, error)
	Write(Content) error
}
