//go:build darwin && cgo

package darwin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

const clipboardTimeout = 5 * time.Second

// Clipboard implements platform.ClipboardManager with pbcopy/pbpaste. Both
// tools run under a UTF-8 locale so non-ASCII patient names survive the
// round trip.
type Clipboard struct{}

// NewClipboard returns a new Clipboard instance.
func NewClipboard() *Clipboard {
	return &Clipboard{}
}

// GetText reads the current text content from the system clipboard.
func (c *Clipboard) GetText() (string, error) {
	out, err := runPB("pbpaste", "")
	if err != nil {
		return "", err
	}
	return out, nil
}

// SetText replaces the clipboard content.
func (c *Clipboard) SetText(text string) error {
	_, err := runPB("pbcopy", text)
	return err
}

// Clear empties the system clipboard.
func (c *Clipboard) Clear() error {
	return c.SetText("")
}

func runPB(tool, stdin string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), clipboardTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, tool)
	cmd.Env = append(os.Environ(), "LANG=en_US.UTF-8", "LC_CTYPE=UTF-8")
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", tool, err)
	}
	return string(out), nil
}
