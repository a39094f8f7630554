package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

const (
	stateFileName = "current_conversation"
	stateLockName = "current_conversation.lock"
)

// stateFilePath returns the path of the current-conversation file inside
// baseDir, creating the directory if needed.
func stateFilePath(baseDir string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("state directory not configured")
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return filepath.Join(baseDir, stateFileName), nil
}

// SaveCurrentConversationID persists the selected conversation id to the
// state file using an atomic write (temp file + rename) under a file lock, so
// concurrent client processes never observe a torn write.
func SaveCurrentConversationID(baseDir string, id int64) error {
	path, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(baseDir, stateLockName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // best effort on release

	tmp, err := os.CreateTemp(baseDir, stateFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(strconv.FormatInt(id, 10)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// LoadCurrentConversationID reads the persisted conversation id. A missing or
// empty state file is not an error: it returns (0, false, nil).
func LoadCurrentConversationID(baseDir string) (int64, bool, error) {
	path, err := stateFilePath(baseDir)
	if err != nil {
		return 0, false, err
	}

	lock := flock.New(filepath.Join(baseDir, stateLockName))
	if err := lock.RLock(); err != nil {
		return 0, false, fmt.Errorf("lock state file: %w", err)
	}
	defer lock.Unlock() //nolint:errcheck // best effort on release

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read state file: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("invalid conversation id in state file: %w", err)
	}
	return id, true, nil
}

// ClearCurrentConversationID removes the state file. Idempotent: clearing
// when nothing is saved is not an error.
func ClearCurrentConversationID(baseDir string) error {
	path, err := stateFilePath(baseDir)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
