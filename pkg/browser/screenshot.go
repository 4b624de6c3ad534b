package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/zamerlab/avitofleet/pkg/avito"
)

// DebugShooter dumps page screenshots into screenshots_<description>/
// folders with auto-incrementing names. Disabled shooters do nothing, so
// call sites never need to branch on DEBUG_SCREENSHOTS themselves.
type DebugShooter struct {
	enabled bool
	baseDir string
	logger  *slog.Logger
}

func NewDebugShooter(enabled bool, baseDir string, logger *slog.Logger) *DebugShooter {
	if baseDir == "" {
		baseDir = "."
	}
	return &DebugShooter{enabled: enabled, baseDir: baseDir, logger: logger}
}

// Shoot captures the page into screenshots_<description>/screenshot_NNN.png.
// Failures are logged and swallowed: a missing debug artifact must never
// affect task processing.
func (d *DebugShooter) Shoot(ctx context.Context, page avito.Page, description string) {
	if !d.enabled || page == nil {
		return
	}

	img, err := page.Screenshot(ctx)
	if err != nil {
		d.logger.Error("debug screenshot capture", "description", description, "error", err)
		return
	}

	dir := filepath.Join(d.baseDir, "screenshots_"+description)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.logger.Error("debug screenshot dir", "dir", dir, "error", err)
		return
	}

	path := filepath.Join(dir, fmt.Sprintf("screenshot_%03d.png", nextNumber(dir)))
	if err := os.WriteFile(path, img, 0o644); err != nil {
		d.logger.Error("debug screenshot write", "path", path, "error", err)
		return
	}
	d.logger.Info("debug screenshot saved", "path", path)
}

func nextNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "screenshot_") && strings.HasSuffix(e.Name(), ".png") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return 1
	}
	sort.Strings(names)
	last := strings.TrimSuffix(strings.TrimPrefix(names[len(names)-1], "screenshot_"), ".png")
	n, err := strconv.Atoi(last)
	if err != nil {
		return 1
	}
	return n + 1
}
