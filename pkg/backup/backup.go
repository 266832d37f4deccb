// Package backup creates and restores table snapshots: the table's page
// file and its index files packed into a zstd-compressed tar archive
// with a digest manifest, optionally sealed with a passphrase.
package backup

import (
	"archive/tar"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// magic identifies a snapshot file
	magic = "RDBK1"

	// manifestName is the manifest's member name inside the archive
	manifestName = "MANIFEST.json"

	flagEncrypted = 1 << 0

	saltSize  = 16
	nonceSize = 12
	keySize   = 32
	kdfRounds = 10000
)

var (
	// ErrBadSnapshot is returned for files that are not snapshots or are corrupt
	ErrBadSnapshot = errors.New("not a valid snapshot")

	// ErrDigestMismatch is returned when a restored file fails verification
	ErrDigestMismatch = errors.New("snapshot digest mismatch")

	// ErrPassphrase is returned when an encrypted snapshot cannot be opened
	ErrPassphrase = errors.New("wrong or missing passphrase")
)

// Options configures snapshot creation and restore.
type Options struct {
	// Passphrase seals the snapshot with AES-256-GCM under a
	// PBKDF2-derived key when non-empty.
	Passphrase string
}

// FileDigest records one archived file.
type FileDigest struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"` // BLAKE2b-256, hex
}

// Manifest describes a snapshot.
type Manifest struct {
	ID        string       `json:"id"`
	Table     string       `json:"table"`
	CreatedAt time.Time    `json:"created_at"`
	Files     []FileDigest `json:"files"`
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, kdfRounds, keySize, sha256.New)
}

// Create packs the given files into a snapshot at dst and returns the
// manifest. File members are stored under their base names.
func Create(dst, table string, files []string, opts Options) (*Manifest, error) {
	man := &Manifest{
		ID:        uuid.NewString(),
		Table:     table,
		CreatedAt: time.Now().UTC(),
	}

	contents := make(map[string][]byte, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		name := filepath.Base(path)
		contents[name] = data
		man.Files = append(man.Files, FileDigest{
			Name:   name,
			Size:   int64(len(data)),
			Digest: digest(data),
		})
	}

	archive, err := buildArchive(man, contents)
	if err != nil {
		return nil, err
	}

	payload := archive
	flags := byte(0)
	var header []byte
	if opts.Passphrase != "" {
		flags |= flagEncrypted
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to draw salt: %w", err)
		}
		nonce := make([]byte, nonceSize)
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("failed to draw nonce: %w", err)
		}
		sealed, err := seal(archive, deriveKey(opts.Passphrase, salt), nonce)
		if err != nil {
			return nil, err
		}
		payload = sealed
		header = append(append([]byte{}, salt...), nonce...)
	}

	out := make([]byte, 0, len(magic)+1+len(header)+len(payload))
	out = append(out, magic...)
	out = append(out, flags)
	out = append(out, header...)
	out = append(out, payload...)

	if err := os.WriteFile(dst, out, 0644); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	return man, nil
}

// buildArchive produces the zstd-compressed tar of the manifest and files.
func buildArchive(man *Manifest, contents map[string][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}
	tw := tar.NewWriter(zw)

	manBytes, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := writeMember(tw, manifestName, manBytes); err != nil {
		return nil, err
	}
	for _, fd := range man.Files {
		if err := writeMember(tw, fd.Name, contents[fd.Name]); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write archive header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write archive member %s: %w", name, err)
	}
	return nil
}

func seal(plain, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return gcm.Seal(nil, nonce, plain, nil), nil
}

func open(sealed, key, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrPassphrase
	}
	return plain, nil
}

// loadArchive reads a snapshot file, unseals it if necessary and returns
// the decompressed tar bytes.
func loadArchive(src string, opts Options) ([]byte, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(raw) < len(magic)+1 || string(raw[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad header", ErrBadSnapshot)
	}
	flags := raw[len(magic)]
	payload := raw[len(magic)+1:]

	if flags&flagEncrypted != 0 {
		if len(payload) < saltSize+nonceSize {
			return nil, fmt.Errorf("%w: truncated crypto header", ErrBadSnapshot)
		}
		if opts.Passphrase == "" {
			return nil, ErrPassphrase
		}
		salt := payload[:saltSize]
		nonce := payload[saltSize : saltSize+nonceSize]
		payload, err = open(payload[saltSize+nonceSize:], deriveKey(opts.Passphrase, salt), nonce)
		if err != nil {
			return nil, err
		}
	}

	zr, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	defer zr.Close()
	tarBytes, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	return tarBytes, nil
}

// readMembers parses the tar into manifest and file contents.
func readMembers(tarBytes []byte) (*Manifest, map[string][]byte, error) {
	tr := tar.NewReader(bytes.NewReader(tarBytes))
	var man *Manifest
	contents := make(map[string][]byte)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrBadSnapshot, err)
		}
		if hdr.Name == manifestName {
			man = &Manifest{}
			if err := json.Unmarshal(data, man); err != nil {
				return nil, nil, fmt.Errorf("%w: bad manifest: %v", ErrBadSnapshot, err)
			}
			continue
		}
		contents[hdr.Name] = data
	}
	if man == nil {
		return nil, nil, fmt.Errorf("%w: missing manifest", ErrBadSnapshot)
	}
	return man, contents, nil
}

// ReadManifest returns a snapshot's manifest without restoring it.
func ReadManifest(src string, opts Options) (*Manifest, error) {
	tarBytes, err := loadArchive(src, opts)
	if err != nil {
		return nil, err
	}
	man, _, err := readMembers(tarBytes)
	return man, err
}

// Restore unpacks a snapshot into destDir, verifying every file against
// the manifest digests before anything is written.
func Restore(src, destDir string, opts Options) (*Manifest, error) {
	tarBytes, err := loadArchive(src, opts)
	if err != nil {
		return nil, err
	}
	man, contents, err := readMembers(tarBytes)
	if err != nil {
		return nil, err
	}

	for _, fd := range man.Files {
		data, ok := contents[fd.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing member %s", ErrBadSnapshot, fd.Name)
		}
		if int64(len(data)) != fd.Size || digest(data) != fd.Digest {
			return nil, fmt.Errorf("%w: %s", ErrDigestMismatch, fd.Name)
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create restore dir: %w", err)
	}
	for _, fd := range man.Files {
		path := filepath.Join(destDir, fd.Name)
		if err := os.WriteFile(path, contents[fd.Name], 0644); err != nil {
			return nil, fmt.Errorf("failed to restore %s: %w", fd.Name, err)
		}
	}
	return man, nil
}
