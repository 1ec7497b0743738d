// Package archive keeps dated copies of backup snapshots under
// dataDir/archives and prunes the oldest ones.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"uniquekits.dev/internal/persistence/snapshot"
)

const dirLayout = "20060102-150405"

type Meta struct {
	Snapshot   string `json:"snapshot"`
	CreatedAt  string `json:"created_at"`
	ArchivedAt string `json:"archived_at"`
	Kits       int    `json:"kits"`
	Records    int    `json:"records"`
	KitsDigest string `json:"kits_digest"`
}

// Store copies snapshotPath into dataDir/archives/<created-at>/ next to a
// meta.json describing it, then removes all but the newest keep archives.
// keep <= 0 keeps everything.
func Store(dataDir, snapshotPath string, h snapshot.Header, keep int) (string, error) {
	dir := filepath.Join(dataDir, "archives", h.CreatedAt.UTC().Format(dirLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", err
	}

	meta := Meta{
		Snapshot:   filepath.Base(dst),
		CreatedAt:  h.CreatedAt.UTC().Format(time.RFC3339Nano),
		ArchivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Kits:       h.Kits,
		Records:    h.Records,
		KitsDigest: h.KitsDigest,
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", err
	}

	if keep > 0 {
		if _, err := Prune(dataDir, keep); err != nil {
			return dst, fmt.Errorf("prune archives: %w", err)
		}
	}
	return dst, nil
}

// List returns archive directory names, oldest first.
func List(dataDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "archives"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(dirLayout, e.Name()); err != nil {
			continue
		}
		out = append(out, e.Name())
	}
	slices.Sort(out)
	return out, nil
}

// Prune deletes the oldest archives beyond keep and returns how many were
// removed.
func Prune(dataDir string, keep int) (int, error) {
	names, err := List(dataDir)
	if err != nil {
		return 0, err
	}
	if len(names) <= keep {
		return 0, nil
	}
	old := names[:len(names)-keep]
	for _, n := range old {
		if err := os.RemoveAll(filepath.Join(dataDir, "archives", n)); err != nil {
			return 0, err
		}
	}
	return len(old), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
