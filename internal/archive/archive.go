// Package archive packs a staging directory into a single tar+zstd file and
// unpacks it again.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Extension is the file suffix of archives produced by Pack.
const Extension = ".tar.zst"

// ErrCorrupt indicates an archive that cannot be parsed.
var ErrCorrupt = errors.New("corrupt archive")

// Pack writes every regular file under sourceDir into a compressed archive at
// dest, keyed by its slash-separated path relative to sourceDir. The archive
// is complete and closed when Pack returns nil.
func Pack(sourceDir, dest string) (err error) {
	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create archive %q: %w", tmpPath, err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
		}
	}()

	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	err = filepath.WalkDir(sourceDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		return addFile(tw, p, filepath.ToSlash(rel))
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("pack %q: %w", sourceDir, err)
	}

	if err = tw.Close(); err != nil {
		return fmt.Errorf("close tar writer: %w", err)
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename archive: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Unpack extracts every entry of the archive into destDir, creating it if
// needed. Entries that would land outside destDir are rejected.
func Unpack(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create %q: %w", destDir, err)
	}
	return walk(archivePath, func(header *tar.Header, r io.Reader) error {
		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			return os.MkdirAll(target, 0o755)
		case tar.TypeReg:
			return extractFile(target, r, header.FileInfo().Mode().Perm())
		default:
			return nil
		}
	})
}

// List returns the names of all entries in the archive, in archive order.
func List(archivePath string) ([]string, error) {
	var names []string
	err := walk(archivePath, func(header *tar.Header, _ io.Reader) error {
		names = append(names, header.Name)
		return nil
	})
	return names, err
}

// walk calls fn for every entry. Stream errors are reported as ErrCorrupt;
// errors returned by fn pass through unchanged.
func walk(archivePath string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", archivePath, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, archivePath, err)
		}
		if err := fn(header, tr); err != nil {
			return err
		}
	}
}

func safeJoin(root, name string) (string, error) {
	clean := path.Clean(name)
	if name == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || path.IsAbs(clean) || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: illegal entry name %q", ErrCorrupt, name)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func extractFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("%w: extract %q: %v", ErrCorrupt, target, err)
	}
	return out.Close()
}
