package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Meta is the sidecar record persisted beside each cached raw file. It lets
// the pool validate cache integrity without refetching.
type Meta struct {
	Sha256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// MetaPath returns the sidecar path for a cached file.
func MetaPath(filePath string) string {
	return filePath + ".meta.json"
}

// WriteMeta hashes the file and persists its sidecar record.
func WriteMeta(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat cached file: %w", err)
	}
	hash, err := hashFile(filePath)
	if err != nil {
		return err
	}
	meta := Meta{
		Sha256:       hash,
		Size:         info.Size(),
		DownloadedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(MetaPath(filePath), data, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return nil
}

// ReadMeta loads the sidecar record for a cached file.
func ReadMeta(filePath string) (Meta, error) {
	data, err := os.ReadFile(MetaPath(filePath))
	if err != nil {
		return Meta{}, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("parse meta: %w", err)
	}
	return meta, nil
}

// VerifyFile reports whether a cached file matches its persisted size and
// content hash. A missing or unreadable sidecar fails verification.
func VerifyFile(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		return false
	}
	meta, err := ReadMeta(filePath)
	if err != nil {
		return false
	}
	if info.Size() != meta.Size {
		return false
	}
	hash, err := hashFile(filePath)
	if err != nil {
		return false
	}
	return strings.EqualFold(hash, meta.Sha256)
}

func hashFile(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
