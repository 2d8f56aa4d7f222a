package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mj1618/portal-pilot/internal/capture"
)

// Auditor persists the screenshot of a step and returns a reference that is
// forwarded to the decision service as screenshot_url.
type Auditor interface {
	Store(ctx context.Context, executionID string, step int, f capture.Frame) (string, error)
}

// DirAuditor writes step screenshots below a local directory.
type DirAuditor struct {
	dir string
}

// NewDirAuditor returns an auditor rooted at dir.
func NewDirAuditor(dir string) *DirAuditor {
	return &DirAuditor{dir: dir}
}

// Store implements Auditor.
func (a *DirAuditor) Store(_ context.Context, executionID string, step int, f capture.Frame) (string, error) {
	data, err := f.PNG()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(a.dir, executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("step-%03d.png", step))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write audit screenshot: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return "file://" + abs, nil
}
