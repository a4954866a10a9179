package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Strob0t/AIDTrainer/internal/domain"
)

// Fallback redirects writes to a recovery directory once the primary
// directory is unreachable. The switch is one-way for the lifetime of the
// Fallback: the primary directory is never retried.
type Fallback struct {
	root   string
	anchor string
	onWarn func(primaryDir, fallbackDir string)

	mu  sync.Mutex
	dir string
}

// NewFallback creates a Fallback whose recovery directory is root/anchor.
// onWarn is called once when the switch happens.
func NewFallback(root, anchor string, onWarn func(primaryDir, fallbackDir string)) *Fallback {
	return &Fallback{root: root, anchor: anchor, onWarn: onWarn}
}

// FallbackAnchor derives the recovery directory from a model path: the name
// of the folder holding the model joined with the file name without its
// extension. Models with the same file name in different folders get
// different anchors.
func FallbackAnchor(modelPath string) string {
	base := filepath.Base(modelPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	parent := filepath.Base(filepath.Dir(modelPath))
	if parent == "." || parent == string(filepath.Separator) {
		return stem
	}
	return filepath.Join(parent, stem)
}

// Active reports whether the switch has happened.
func (f *Fallback) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dir != ""
}

// Dir returns the recovery directory, empty before the switch.
func (f *Fallback) Dir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dir
}

// Resolve returns the directory a file meant for primaryDir must be written
// to: primaryDir while it exists, the recovery directory otherwise.
func (f *Fallback) Resolve(primaryDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != "" {
		return f.dir, nil
	}
	if info, err := os.Stat(primaryDir); err == nil && info.IsDir() {
		return primaryDir, nil
	}
	return f.switchLocked(primaryDir)
}

// Switch forces the redirect, for example after a write into an existing but
// unwritable primary directory failed.
func (f *Fallback) Switch(primaryDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != "" {
		return f.dir, nil
	}
	return f.switchLocked(primaryDir)
}

func (f *Fallback) switchLocked(primaryDir string) (string, error) {
	dir := filepath.Join(f.root, f.anchor)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create fallback directory %s: %v", domain.ErrStorageUnavailable, dir, err)
	}
	f.dir = dir
	if f.onWarn != nil {
		f.onWarn(primaryDir, dir)
	}
	return dir, nil
}
