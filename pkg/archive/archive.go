// Package archive bundles the game database, the report store and the game
// config into checksummed .tar.gz snapshots, and restores them.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Archive entry names.
const (
	BoltEntry     = "data/game.bolt"
	SQLiteEntry   = "data/reports.sqlite"
	ManifestEntry = "manifest.json"
	confPrefix    = "conf/"
)

// Manifest describes the contents of an archive.
type Manifest struct {
	Version   int                  `json:"version"`
	Server    string               `json:"server"`
	Timestamp string               `json:"timestamp"`
	MudName   string               `json:"mud_name"`
	Objects   int                  `json:"objects"`
	Files     map[string]FileEntry `json:"files"`
}

// FileEntry describes a single file within the archive.
type FileEntry struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
	Type   string `json:"type"` // bolt, sqlite or conf
}

// Snapshotter writes a consistent copy of a live database to a path.
type Snapshotter func(dest string) error

// Params holds the inputs for Create.
type Params struct {
	Dir     string      // output directory
	Bolt    Snapshotter // required
	SQLite  Snapshotter // nil when reports live in bolt
	Conf    string      // game config path; empty skips it
	MudName string
	Objects int
	Server  string
	Now     func() time.Time
}

// Create writes a new archive into p.Dir and returns its path.
func Create(p Params) (string, error) {
	if p.Bolt == nil {
		return "", fmt.Errorf("archive: no bolt snapshotter")
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	ts := now()
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return "", fmt.Errorf("archive: create dir %s: %w", p.Dir, err)
	}

	stage, err := os.MkdirTemp("", "mush-archive-*")
	if err != nil {
		return "", fmt.Errorf("archive: create temp dir: %w", err)
	}
	defer os.RemoveAll(stage)

	files := map[string]string{}
	types := map[string]string{}
	boltStaged := filepath.Join(stage, "game.bolt")
	if err := p.Bolt(boltStaged); err != nil {
		return "", fmt.Errorf("archive: bolt snapshot: %w", err)
	}
	files[BoltEntry], types[BoltEntry] = boltStaged, "bolt"

	if p.SQLite != nil {
		sqlStaged := filepath.Join(stage, "reports.sqlite")
		if err := p.SQLite(sqlStaged); err != nil {
			return "", fmt.Errorf("archive: sqlite snapshot: %w", err)
		}
		files[SQLiteEntry], types[SQLiteEntry] = sqlStaged, "sqlite"
	}
	if p.Conf != "" {
		if _, err := os.Stat(p.Conf); err == nil {
			name := confPrefix + filepath.Base(p.Conf)
			files[name], types[name] = p.Conf, "conf"
		}
	}

	manifest := Manifest{
		Version:   1,
		Server:    p.Server,
		Timestamp: ts.UTC().Format(time.RFC3339),
		MudName:   p.MudName,
		Objects:   p.Objects,
		Files:     make(map[string]FileEntry, len(files)),
	}

	path := filepath.Join(p.Dir, fmt.Sprintf("archive-%s.tar.gz", ts.Format("20060102-150405")))
	tmp := path + ".part"
	if err := writeArchive(tmp, files, types, &manifest); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("archive: rename %s: %w", tmp, err)
	}
	zap.L().Info("archive: created", zap.String("path", path), zap.Int("files", len(files)))
	return path, nil
}

func writeArchive(path string, files, types map[string]string, manifest *Manifest) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", path, err)
	}
	defer out.Close()
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	// Data first, manifest last.
	for _, name := range []string{BoltEntry, SQLiteEntry} {
		if src, ok := files[name]; ok {
			if err := addEntry(tw, manifest, src, name, types[name]); err != nil {
				return err
			}
		}
	}
	for name, src := range files {
		if name == BoltEntry || name == SQLiteEntry {
			continue
		}
		if err := addEntry(tw, manifest, src, name, types[name]); err != nil {
			return err
		}
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    ManifestEntry,
		Size:    int64(len(data)),
		Mode:    0o644,
		ModTime: time.Now(),
	}); err != nil {
		return fmt.Errorf("archive: write manifest header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write manifest: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("archive: close gzip: %w", err)
	}
	return out.Close()
}

// addEntry copies src into the tar under name and records its checksum.
func addEntry(tw *tar.Writer, m *Manifest, src, name, typ string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", src, err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0o644,
		ModTime: info.ModTime(),
	}); err != nil {
		return fmt.Errorf("archive: header %s: %w", name, err)
	}
	h := sha256.New()
	n, err := io.Copy(tw, io.TeeReader(f, h))
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", name, err)
	}
	m.Files[name] = FileEntry{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n, Type: typ}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
