// Package tokenfile reads and writes the bearer token used to authenticate
// against the sync service. The login flow that mints the token lives
// outside this program; it drops a JSON file that this package loads and
// re-reads whenever it changes on disk.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrNoToken is returned when the token file does not exist.
var ErrNoToken = errors.New("tokenfile: no token (log in first)")

// ErrExpired is returned when the stored token is past its expiry.
var ErrExpired = errors.New("tokenfile: token expired (log in again)")

// File is the on-disk format. Account is informational (shown by the CLI).
type File struct {
	Token   *oauth2.Token `json:"token"`
	Account string        `json:"account,omitempty"`
}

// Load reads a token file. Returns ErrNoToken if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoToken, path)
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("tokenfile: %s missing token field", path)
	}

	if tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has empty credentials", path)
	}

	return &tf, nil
}

// Save writes a token file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return errors.New("tokenfile: refusing to save nil token")
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

// Source serves the access token from a token file. The file is re-read
// when its modification time changes, so a token refreshed by the login
// tool is picked up by a running daemon. Safe for concurrent use.
type Source struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	src     oauth2.TokenSource
}

// NewSource returns a Source for path. The file is not read until the first
// call to Token.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Token returns the current access token.
func (s *Source) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNoToken, s.path)
	}

	if err != nil {
		return "", fmt.Errorf("tokenfile: stat %s: %w", s.path, err)
	}

	if s.src == nil || !info.ModTime().Equal(s.modTime) {
		tf, loadErr := Load(s.path)
		if loadErr != nil {
			return "", loadErr
		}

		s.src = oauth2.StaticTokenSource(tf.Token)
		s.modTime = info.ModTime()
	}

	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("tokenfile: %w", err)
	}

	if !tok.Valid() {
		return "", fmt.Errorf("%w: %s", ErrExpired, s.path)
	}

	return tok.AccessToken, nil
}
