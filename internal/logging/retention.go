package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LogPattern matches the daily log files NewFromConfig writes.
const LogPattern = "courier-*.log"

// PruneLogs deletes files in dir matching pattern whose modification time is
// before now minus retention, never touching keep. It returns how many files
// were removed. A non-positive retention disables pruning.
func PruneLogs(logger *slog.Logger, dir, pattern string, retention time.Duration, now time.Time, keep ...string) int {
	if retention <= 0 || dir == "" {
		return 0
	}
	cutoff := now.Add(-retention)
	skip := make(map[string]struct{}, len(keep))
	for _, path := range keep {
		if abs, err := filepath.Abs(path); err == nil {
			skip[abs] = struct{}{}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if matched, err := filepath.Match(pattern, entry.Name()); err != nil || !matched {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		if _, ok := skip[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed", "log_retention_failed",
				String("path", path),
				Error(err),
				String(FieldErrorHint, "check permissions on the state directory"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
		if logger != nil {
			logger.Info("log pruned", String("path", path), String(FieldEventType, "log_pruned"))
		}
	}
	return removed
}
