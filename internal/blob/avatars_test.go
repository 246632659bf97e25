package blob

import (
	"encoding/base64"
	"errors"
	"os"
	"strings"
	"testing"
)

func TestSaveAndLoadAvatar(t *testing.T) {
	t.Parallel()

	a, err := NewAvatars(t.TempDir())
	if err != nil {
		t.Fatalf("new avatars: %v", err)
	}

	payload := []byte("\x89PNG fake image bytes")
	name, err := a.Save(7, base64.StdEncoding.EncodeToString(payload))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if name != "user_7.png" {
		t.Fatalf("unexpected filename %q", name)
	}

	got, err := a.Load(7)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("decode loaded avatar: %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatal("loaded avatar differs from stored avatar")
	}

	// Overwrite replaces in place.
	if _, err := a.Save(7, base64.StdEncoding.EncodeToString([]byte("v2"))); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = a.Load(7)
	if err != nil {
		t.Fatalf("load after overwrite: %v", err)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(got); string(decoded) != "v2" {
		t.Fatal("overwrite did not replace avatar")
	}
}

func TestLoadMissingAvatarIsEmpty(t *testing.T) {
	t.Parallel()

	a, err := NewAvatars(t.TempDir())
	if err != nil {
		t.Fatalf("new avatars: %v", err)
	}
	got, err := a.Load(99)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "" {
		t.Fatalf("missing avatar should be empty, got %d bytes", len(got))
	}
}

func TestSaveRejectsBadInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := NewAvatars(dir)
	if err != nil {
		t.Fatalf("new avatars: %v", err)
	}

	if _, err := a.Save(1, "not-base64!!"); err == nil {
		t.Fatal("invalid base64 must fail")
	}
	if _, err := a.Save(1, ""); err == nil {
		t.Fatal("empty avatar must fail")
	}

	huge := base64.StdEncoding.EncodeToString(make([]byte, MaxAvatarBytes+1))
	if _, err := a.Save(1, huge); !errors.Is(err, ErrAvatarTooLarge) {
		t.Fatalf("expected ErrAvatarTooLarge, got %v", err)
	}

	// Failed saves must not leave temp files behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("stray temp file %q", e.Name())
		}
	}
}
