package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// LocalStorage lays out per-task working files inside the temp directory.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates the directory if needed.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &LocalStorage{tempDir: tempDir}, nil
}

func (ls *LocalStorage) Dir() string {
	return ls.tempDir
}

// OutputPath is where the converted artifact for a task is written.
func (ls *LocalStorage) OutputPath(taskID, format string) string {
	return filepath.Join(ls.tempDir, fmt.Sprintf("%s.%s", taskID, format))
}

// RemoveTaskFiles deletes every file whose name starts with taskID except
// the ones listed in keep. It returns how many files were removed.
func (ls *LocalStorage) RemoveTaskFiles(taskID string, keep ...string) int {
	matches, err := filepath.Glob(filepath.Join(ls.tempDir, taskID+"*"))
	if err != nil {
		return 0
	}
	kept := make(map[string]bool, len(keep))
	for _, k := range keep {
		kept[filepath.Clean(k)] = true
	}

	removed := 0
	for _, m := range matches {
		if kept[filepath.Clean(m)] {
			continue
		}
		if err := os.Remove(m); err == nil {
			removed++
		}
	}
	return removed
}

// DownloadFilename builds the attachment name offered to clients.
func DownloadFilename(title, fallback, format string) string {
	name := sanitizeFilename(title)
	if name == "" {
		name = sanitizeFilename(fallback)
	}
	if name == "" {
		name = "audio"
	}
	return name + "." + format
}

// sanitizeFilename removes invalid characters from filename
func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		case unicode.IsControl(r):
		default:
			b.WriteRune(r)
		}
	}
	result := strings.Trim(strings.TrimSpace(b.String()), ".")
	if runes := []rune(result); len(runes) > 100 {
		result = strings.TrimSpace(string(runes[:100]))
	}
	return result
}
