// Package blob stores user avatars on the local filesystem. Avatars travel
// over the wire as base64 PNG and live on disk as user_{id}.png.
package blob

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// MaxAvatarBytes caps a decoded avatar upload.
const MaxAvatarBytes = 2 << 20

var ErrAvatarTooLarge = errors.New("avatar exceeds size limit")

// Avatars reads and writes avatar files under a single directory.
type Avatars struct {
	dir string
}

// NewAvatars ensures the directory exists and returns the store.
func NewAvatars(dir string) (*Avatars, error) {
	if dir == "" {
		return nil, fmt.Errorf("avatar directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create avatar directory: %w", err)
	}
	return &Avatars{dir: dir}, nil
}

// FileName returns the canonical on-disk name for a user's avatar.
func (a *Avatars) FileName(userID int64) string {
	return fmt.Sprintf("user_%d.png", userID)
}

// Save decodes base64 PNG data and writes it atomically: a temp file in the
// same directory is renamed into place so readers never observe a partial
// avatar. Returns the stored filename.
func (a *Avatars) Save(userID int64, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode avatar data: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("avatar data is empty")
	}
	if len(data) > MaxAvatarBytes {
		return "", ErrAvatarTooLarge
	}

	name := a.FileName(userID)
	tmp, err := os.CreateTemp(a.dir, name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create temp avatar: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write avatar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close avatar: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(a.dir, name)); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("publish avatar: %w", err)
	}
	return name, nil
}

// Load returns a user's avatar as base64, or "" when none is stored.
func (a *Avatars) Load(userID int64) (string, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, a.FileName(userID)))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
