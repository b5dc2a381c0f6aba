package archive

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func snapshotOf(body string) Snapshotter {
	return func(dest string) error { return os.WriteFile(dest, []byte(body), 0o644) }
}

func at(s string) func() time.Time {
	ts, _ := time.Parse(time.RFC3339, s)
	return func() time.Time { return ts }
}

func createTestArchive(t *testing.T, dir, when string) string {
	t.Helper()
	conf := filepath.Join(t.TempDir(), "game.yaml")
	writeFile(t, conf, "mud_name: Testville\n")
	path, err := Create(Params{
		Dir:     dir,
		Bolt:    snapshotOf("bolt-bytes"),
		SQLite:  snapshotOf("sqlite-bytes"),
		Conf:    conf,
		MudName: "Testville",
		Objects: 12,
		Server:  "mushcontrib",
		Now:     at(when),
	})
	require.NoError(t, err)
	return path
}

func TestCreateAndReadManifest(t *testing.T) {
	dir := t.TempDir()
	path := createTestArchive(t, dir, "2026-03-01T10:00:00Z")
	assert.Equal(t, "archive-20260301-100000.tar.gz", filepath.Base(path))
	assert.NoFileExists(t, path+".part")

	m, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "Testville", m.MudName)
	assert.Equal(t, 12, m.Objects)
	assert.Equal(t, "2026-03-01T10:00:00Z", m.Timestamp)
	require.Contains(t, m.Files, BoltEntry)
	assert.Equal(t, "bolt", m.Files[BoltEntry].Type)
	assert.Equal(t, int64(len("bolt-bytes")), m.Files[BoltEntry].Size)
	assert.Equal(t, "sqlite", m.Files[SQLiteEntry].Type)
	assert.Equal(t, "conf", m.Files["conf/game.yaml"].Type)
}

func TestCreateRequiresBolt(t *testing.T) {
	_, err := Create(Params{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	createTestArchive(t, dir, "2026-03-01T10:00:00Z")
	createTestArchive(t, dir, "2026-03-03T10:00:00Z")
	createTestArchive(t, dir, "2026-03-02T10:00:00Z")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	all, err := List(dir)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "archive-20260303-100000.tar.gz", all[0].Filename)
	assert.Equal(t, "archive-20260301-100000.tar.gz", all[2].Filename)
	assert.Equal(t, 12, all[0].Objects)

	n, err := Prune(dir, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err = List(dir)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "archive-20260302-100000.tar.gz", all[1].Filename)

	n, err = Prune(dir, 0)
	require.NoError(t, err)
	assert.Zero(t, n)

	empty, err := List(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRestore(t *testing.T) {
	path := createTestArchive(t, t.TempDir(), "2026-03-01T10:00:00Z")
	dest := t.TempDir()
	conf := filepath.Join(dest, "game.yaml")
	writeFile(t, conf, "mud_name: Changed\n")

	res, err := Restore(RestoreParams{
		Archive:    path,
		BoltDest:   filepath.Join(dest, "data", "game.bolt"),
		SQLiteDest: filepath.Join(dest, "reports.sqlite"),
		ConfDest:   conf,
	})
	require.NoError(t, err)
	assert.Len(t, res.Restored, 2)
	assert.Equal(t, []string{"kept current config: " + conf}, res.Warnings)

	data, err := os.ReadFile(filepath.Join(dest, "data", "game.bolt"))
	require.NoError(t, err)
	assert.Equal(t, "bolt-bytes", string(data))
	data, err = os.ReadFile(conf)
	require.NoError(t, err)
	assert.Equal(t, "mud_name: Changed\n", string(data))

	res, err = Restore(RestoreParams{Archive: path, ConfDest: conf, OverwriteConf: true})
	require.NoError(t, err)
	assert.Equal(t, []string{conf}, res.Restored)
	data, err = os.ReadFile(conf)
	require.NoError(t, err)
	assert.Equal(t, "mud_name: Testville\n", string(data))
}

// rewriteEntry copies an archive, replacing the body of one entry.
func rewriteEntry(t *testing.T, src, dst, name, body string) {
	t.Helper()
	in, err := os.Open(src)
	require.NoError(t, err)
	defer in.Close()
	gr, err := gzip.NewReader(in)
	require.NoError(t, err)

	out, err := os.Create(dst)
	require.NoError(t, err)
	defer out.Close()
	gw := gzip.NewWriter(out)
	tw := tar.NewWriter(gw)

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		if hdr.Name == name {
			data = []byte(body)
			hdr.Size = int64(len(data))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
}

func TestRestoreRejectsCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	path := createTestArchive(t, dir, "2026-03-01T10:00:00Z")
	bad := filepath.Join(dir, "bad.tar.gz")
	rewriteEntry(t, path, bad, BoltEntry, "tampered!!")

	boltDest := filepath.Join(t.TempDir(), "game.bolt")
	_, err := Restore(RestoreParams{Archive: bad, BoltDest: boltDest})
	assert.ErrorContains(t, err, "checksum mismatch for data/game.bolt")
	assert.NoFileExists(t, boltDest)
}
