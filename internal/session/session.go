// Package session keeps durable browser state between runs and saves
// diagnostic screenshots of failed extractions.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Files stores one state file per account under StateDir and screenshots
// under ScreenshotDir.
type Files struct {
	StateDir      string
	ScreenshotDir string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Load returns the saved state for an account, or nil if there is none.
func (f *Files) Load(accountID string) ([]byte, error) {
	path, err := f.statePath(accountID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session state: %w", err)
	}
	return data, nil
}

// Save replaces the saved state for an account.
func (f *Files) Save(accountID string, state []byte) error {
	path, err := f.statePath(accountID)
	if err != nil {
		return err
	}
	return writeFile(path, state)
}

// SaveScreenshot writes png as <account>-<UTC timestamp>.png and returns
// its path.
func (f *Files) SaveScreenshot(accountID string, png []byte) (string, error) {
	if err := checkID(accountID); err != nil {
		return "", err
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	name := fmt.Sprintf("%s-%s.png", accountID, now().UTC().Format("20060102T150405.000Z"))
	path := filepath.Join(f.ScreenshotDir, name)
	if err := writeFile(path, png); err != nil {
		return "", err
	}
	return path, nil
}

func (f *Files) statePath(accountID string) (string, error) {
	if err := checkID(accountID); err != nil {
		return "", err
	}
	return filepath.Join(f.StateDir, accountID+".json"), nil
}

func checkID(accountID string) error {
	if accountID == "" || accountID == "." || accountID == ".." || strings.ContainsAny(accountID, `/\`) {
		return fmt.Errorf("invalid account id %q", accountID)
	}
	return nil
}

// writeFile writes through a temp file so a crash never leaves a torn
// state file behind.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	return nil
}
