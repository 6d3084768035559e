// Package backup packs corona's managed files into zstd-compressed tar
// archives and stores them in a directory or an S3-compatible bucket.
package backup

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/papapumpkin/corona/internal/state"
)

// ErrUnsafePath is returned when an archive entry would land outside the
// restore root.
var ErrUnsafePath = errors.New("backup: archive entry escapes the restore root")

// maxEntrySize bounds a single restored file.
const maxEntrySize = 64 << 20

// Pack writes a tar.zst archive of files to w and returns how many files it
// stored. Each file is stored under its path relative to root; files outside
// root are rejected and missing files are skipped.
func Pack(w io.Writer, root string, files []string) (int, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, fmt.Errorf("backup: zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)
	n, err := writeTar(tw, root, files)
	if err != nil {
		enc.Close()
		return n, err
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return n, fmt.Errorf("backup: closing tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return n, fmt.Errorf("backup: closing zstd: %w", err)
	}
	return n, nil
}

func writeTar(tw *tar.Writer, root string, files []string) (int, error) {
	n := 0
	for _, f := range files {
		rel, err := filepath.Rel(root, f)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return n, fmt.Errorf("%w: %s", ErrUnsafePath, f)
		}
		info, err := os.Stat(f)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("backup: %w", err)
		}
		data, err := os.ReadFile(f)
		if err != nil {
			return n, fmt.Errorf("backup: reading %s: %w", f, err)
		}
		hdr := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: info.ModTime(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return n, fmt.Errorf("backup: tar header %s: %w", rel, err)
		}
		if _, err := tw.Write(data); err != nil {
			return n, fmt.Errorf("backup: tar write %s: %w", rel, err)
		}
		n++
	}
	return n, nil
}

// Unpack restores a tar.zst archive from r into root and returns the
// restored paths. Each file is written atomically.
func Unpack(r io.Reader, root string) ([]string, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("backup: zstd reader: %w", err)
	}
	defer dec.Close()

	var restored []string
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, fmt.Errorf("backup: reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return restored, fmt.Errorf("%w: %s", ErrUnsafePath, hdr.Name)
		}
		if hdr.Size > maxEntrySize {
			return restored, fmt.Errorf("backup: %s is %d bytes, over the %d limit", name, hdr.Size, maxEntrySize)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxEntrySize))
		if err != nil {
			return restored, fmt.Errorf("backup: reading %s: %w", name, err)
		}
		dst := filepath.Join(root, filepath.FromSlash(name))
		if err := state.WriteFile(dst, data, 0o644); err != nil {
			return restored, fmt.Errorf("backup: restoring %s: %w", name, err)
		}
		restored = append(restored, dst)
	}
}
