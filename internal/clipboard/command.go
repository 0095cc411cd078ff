package clipboard

import (
	"bytes"
	"fmt"
	"os/exec"
	"runtime"
)

// backend describes one platform clipboard tool pairing.
type backend struct {
	name     string
	readCmd  []string
	writeCmd []string
	// htmlReadCmd and htmlWriteCmd are optional; backends without them
	// sync the plain variant only.
	htmlReadCmd  []string
	htmlWriteCmd []string
}

var backends = map[string][]backend{
	"linux": {
		{
			name:         "xclip",
			readCmd:      []string{"xclip", "-selection", "clipboard", "-o"},
			writeCmd:     []string{"xclip", "-selection", "clipboard"},
			htmlReadCmd:  []string{"xclip", "-selection", "clipboard", "-t", "text/html", "-o"},
			htmlWriteCmd: []string{"xclip", "-selection", "clipboard", "-t", "text/html"},
		},
		{
			name:     "wl-clipboard",
			readCmd:  []string{"wl-paste", "--no-newline"},
			writeCmd: []string{"wl-copy"},
		},
		{
			name:     "xsel",
			readCmd:  []string{"xsel", "--clipboard", "--output"},
			writeCmd: []string{"xsel", "--clipboard", "--input"},
		},
	},
	"darwin": {
		{
			name:     "pbcopy",
			readCmd:  []string{"pbpaste"},
			writeCmd: []string{"pbcopy"},
		},
	},
	"windows": {
		{
			name:     "powershell",
			readCmd:  []string{"powershell", "-NoProfile", "-Command", "Get-Clipboard -Raw"},
			writeCmd: []string{"powershell", "-NoProfile", "-Command", "$input | Set-Clipboard"},
		},
	},
}

// CommandClipboard shells out to the platform clipboard tools.
type CommandClipboard struct {
	backend backend
}

// NewCommandClipboard picks the first available backend for the current
// platform. It returns ErrUnavailable when none of the known tools exist.
func NewCommandClipboard() (*CommandClipboard, error) {
	for _, b := range backends[runtime.GOOS] {
		if _, err := exec.LookPath(b.readCmd[0]); err == nil {
			return &CommandClipboard{backend: b}, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrUnavailable, runtime.GOOS)
}

// Name returns the selected backend name.
func (c *CommandClipboard) Name() string {
	return c.backend.name
}

// Read returns the current clipboard value. The HTML variant is read only
// when the backend supports a rich-text target; an empty clipboard is not
// an error.
func (c *CommandClipboard) Read() (Content, error) {
	plain, err := runOut(c.backend.readCmd)
	if err != nil {
		// Most tools exit non-zero on an empty clipboard. Treat that as
		// empty content rather than a failure.
		plain = ""
	}
	var html string
	if len(c.backend.htmlReadCmd) > 0 {
		html, _ = runOut(c.backend.htmlReadCmd)
	}
	return Content{Plain: plain, HTML: html}, nil
}

// Write applies content to the clipboard. The plain variant always wins if
// the backend cannot represent both.
func (c *CommandClipboard) Write(content Content) error {
	if content.HTML != "" && len(c.backend.htmlWriteCmd) > 0 {
		// Best effort: some environments reject the html target while
		// still accepting plain text.
		_ = runIn(c.backend.htmlWriteCmd, content.HTML)
	}
	return runIn(c.backend.writeCmd, content.Plain)
}

func runOut(argv []string) (string, error) {
	var out bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", argv[0], err)
	}
	return out.String(), nil
}

func runIn(argv []string, input string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewBufferString(input)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}
