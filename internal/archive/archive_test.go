package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stage(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return dir
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	files := map[string]string{
		"licenses.json":        `[{"id":1}]`,
		"teams.json":           strings.Repeat(`{"name":"team"},`, 5000),
		"files/uploads/a.txt":  "attachment",
		"logs/app-2026-10.log": "line 1\nline 2\n",
		"files/uploads/empty":  "",
	}
	src := stage(t, files)
	dest := filepath.Join(t.TempDir(), "b"+Extension)

	require.NoError(t, Pack(src, dest))
	_, err := os.Stat(dest + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)

	names, err := List(dest)
	require.NoError(t, err)
	sort.Strings(names)
	want := make([]string, 0, len(files))
	for name := range files {
		want = append(want, name)
	}
	sort.Strings(want)
	assert.Equal(t, want, names)

	out := filepath.Join(t.TempDir(), "extract")
	require.NoError(t, Unpack(dest, out))
	for name, body := range files {
		got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, body, string(got), name)
	}
}

func TestPack_Compresses(t *testing.T) {
	src := stage(t, map[string]string{"rows.json": strings.Repeat(`{"k":"v"}`, 100000)})
	dest := filepath.Join(t.TempDir(), "c"+Extension)
	require.NoError(t, Pack(src, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(100000))
}

func TestPack_MissingSource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "x"+Extension)
	err := Pack(filepath.Join(t.TempDir(), "missing"), dest)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
	_, statErr = os.Stat(dest + ".tmp")
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestUnpack_CorruptInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage"+Extension)
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not an archive ", 100)), 0o600))

	err := Unpack(path, t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = List(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestUnpack_RejectsTraversal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evil"+Extension)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	body := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../../escape.txt", Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(t.TempDir(), "out")
	err = Unpack(path, dest)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}
