package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// RestoreParams holds the inputs for Restore. Empty destinations skip their
// entry. The server must not be running against the destinations.
type RestoreParams struct {
	Archive    string
	BoltDest   string
	SQLiteDest string
	ConfDest   string
	// OverwriteConf replaces an existing, different config file. Otherwise
	// the current one is kept and a warning recorded.
	OverwriteConf bool
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Manifest *Manifest
	Restored []string
	Warnings []string
}

// Restore verifies every checksum in the archive before copying anything to
// its destination.
func Restore(p RestoreParams) (*RestoreResult, error) {
	stage, err := os.MkdirTemp("", "mush-restore-*")
	if err != nil {
		return nil, fmt.Errorf("restore: create temp dir: %w", err)
	}
	defer os.RemoveAll(stage)

	if err := extract(p.Archive, stage); err != nil {
		return nil, fmt.Errorf("restore: extract %s: %w", p.Archive, err)
	}
	m, err := ReadManifest(p.Archive)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	for name, entry := range m.Files {
		sum, err := checksum(filepath.Join(stage, filepath.FromSlash(name)))
		if err != nil {
			return nil, fmt.Errorf("restore: checksum %s: %w", name, err)
		}
		if sum != entry.SHA256 {
			return nil, fmt.Errorf("restore: checksum mismatch for %s, archive is corrupt", name)
		}
	}

	res := &RestoreResult{Manifest: m}
	restore := func(name, dest string) error {
		if dest == "" {
			return nil
		}
		if _, ok := m.Files[name]; !ok {
			return nil
		}
		if err := copyFile(filepath.Join(stage, filepath.FromSlash(name)), dest); err != nil {
			return fmt.Errorf("restore: copy %s: %w", name, err)
		}
		res.Restored = append(res.Restored, dest)
		return nil
	}
	if err := restore(BoltEntry, p.BoltDest); err != nil {
		return nil, err
	}
	if err := restore(SQLiteEntry, p.SQLiteDest); err != nil {
		return nil, err
	}
	if p.ConfDest != "" {
		name := confPrefix + filepath.Base(p.ConfDest)
		if _, ok := m.Files[name]; ok {
			same, exists := sameContents(filepath.Join(stage, filepath.FromSlash(name)), p.ConfDest)
			switch {
			case same:
			case exists && !p.OverwriteConf:
				res.Warnings = append(res.Warnings, "kept current config: "+p.ConfDest)
			default:
				if err := restore(name, p.ConfDest); err != nil {
					return nil, err
				}
			}
		}
	}
	zap.L().Info("archive: restored", zap.String("archive", p.Archive), zap.Strings("files", res.Restored))
	return res, nil
}

func extract(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		rel, err := filepath.Rel(dest, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return fmt.Errorf("invalid archive entry: %s", hdr.Name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
	}
}

func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sameContents reports whether a and b hold the same bytes, and whether b
// exists at all.
func sameContents(a, b string) (same, exists bool) {
	bd, err := os.ReadFile(b)
	if err != nil {
		return false, false
	}
	ad, err := os.ReadFile(a)
	if err != nil {
		return false, true
	}
	return bytes.Equal(ad, bd), true
}
