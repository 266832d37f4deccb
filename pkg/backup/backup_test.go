package backup

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFixtures(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	tbl := filepath.Join(dir, "people")
	idx := filepath.Join(dir, "people.idx")
	if err := os.WriteFile(tbl, bytes.Repeat([]byte("page"), 2048), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	if err := os.WriteFile(idx, []byte("index-data"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	return dir, []string{tbl, idx}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir, files := writeFixtures(t)
	dst := filepath.Join(dir, "people.snap")

	man, err := Create(dst, "people", files, Options{})
	if err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}
	if man.ID == "" || man.Table != "people" || len(man.Files) != 2 {
		t.Errorf("Unexpected manifest: %+v", man)
	}

	restoreDir := filepath.Join(dir, "restored")
	got, err := Restore(dst, restoreDir, Options{})
	if err != nil {
		t.Fatalf("Failed to restore: %v", err)
	}
	if got.ID != man.ID {
		t.Errorf("Expected manifest id %s, got %s", man.ID, got.ID)
	}

	orig, _ := os.ReadFile(files[0])
	restored, err := os.ReadFile(filepath.Join(restoreDir, "people"))
	if err != nil {
		t.Fatalf("Failed to read restored file: %v", err)
	}
	if !bytes.Equal(orig, restored) {
		t.Error("Restored file differs from original")
	}
}

func TestEncryptedSnapshot(t *testing.T) {
	dir, files := writeFixtures(t)
	dst := filepath.Join(dir, "people.snap")

	if _, err := Create(dst, "people", files, Options{Passphrase: "s3cret"}); err != nil {
		t.Fatalf("Failed to create encrypted snapshot: %v", err)
	}

	if _, err := ReadManifest(dst, Options{}); !errors.Is(err, ErrPassphrase) {
		t.Errorf("Expected ErrPassphrase without passphrase, got %v", err)
	}
	if _, err := ReadManifest(dst, Options{Passphrase: "wrong"}); !errors.Is(err, ErrPassphrase) {
		t.Errorf("Expected ErrPassphrase for wrong passphrase, got %v", err)
	}

	man, err := ReadManifest(dst, Options{Passphrase: "s3cret"})
	if err != nil {
		t.Fatalf("Failed to read manifest: %v", err)
	}
	if man.Table != "people" {
		t.Errorf("Expected table people, got %s", man.Table)
	}

	if _, err := Restore(dst, filepath.Join(dir, "restored"), Options{Passphrase: "s3cret"}); err != nil {
		t.Fatalf("Failed to restore encrypted snapshot: %v", err)
	}
}

func TestBadSnapshotRejected(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.snap")
	if err := os.WriteFile(bad, []byte("not a snapshot"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	if _, err := ReadManifest(bad, Options{}); !errors.Is(err, ErrBadSnapshot) {
		t.Errorf("Expected ErrBadSnapshot, got %v", err)
	}
}

func TestTamperedSnapshotFailsVerification(t *testing.T) {
	dir, files := writeFixtures(t)
	dst := filepath.Join(dir, "people.snap")

	if _, err := Create(dst, "people", files, Options{}); err != nil {
		t.Fatalf("Failed to create snapshot: %v", err)
	}

	// Rebuild the snapshot with one file silently changed but the old
	// manifest digests: restore must refuse it.
	man, contents, err := func() (*Manifest, map[string][]byte, error) {
		tarBytes, err := loadArchive(dst, Options{})
		if err != nil {
			return nil, nil, err
		}
		return readMembers(tarBytes)
	}()
	if err != nil {
		t.Fatalf("Failed to reload snapshot: %v", err)
	}
	contents["people"][0] ^= 0xff
	archive, err := buildArchive(man, contents)
	if err != nil {
		t.Fatalf("Failed to rebuild archive: %v", err)
	}
	raw := append([]byte(magic), 0)
	raw = append(raw, archive...)
	if err := os.WriteFile(dst, raw, 0644); err != nil {
		t.Fatalf("Failed to write tampered snapshot: %v", err)
	}

	if _, err := Restore(dst, filepath.Join(dir, "restored"), Options{}); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Expected ErrDigestMismatch, got %v", err)
	}
}
