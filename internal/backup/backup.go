// Package backup creates sibling backups and content digests for schematic
// rewrites.
package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/ulikunitz/xz"
	"github.com/zeebo/blake3"

	"github.com/fabworks/kicad-lcsc/core/errors"
	"github.com/fabworks/kicad-lcsc/internal/fileutil"
)

// Suffixes appended to the source path.
const (
	Suffix           = ".bak"
	CompressedSuffix = ".bak.xz"
)

// Options configures backup creation.
type Options struct {
	// Compress writes an xz-compressed backup instead of a plain copy.
	Compress bool
}

// Create writes a sibling backup of path and returns the backup path. A plain
// backup preserves the source file's mode and timestamps; a compressed backup
// carries the mode only. An existing backup is overwritten.
func Create(path string, opts Options) (string, error) {
	if opts.Compress {
		return createCompressed(path)
	}
	return createPlain(path)
}

func createPlain(path string) (string, error) {
	dst := path + Suffix
	if err := fileutil.CopyFile(path, dst); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.NewIO("stat", path, err)
	}
	// Mirror the source timestamps so the backup looks like the pre-rewrite
	// file, not like a file created during the run.
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return "", errors.NewIO("set times", dst, err)
	}
	return dst, nil
}

func createCompressed(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", errors.NewIO("open", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", errors.NewIO("stat", path, err)
	}

	dst := path + CompressedSuffix
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return "", errors.NewIO("create", dst, err)
	}

	xw, err := xz.NewWriter(out)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return "", errors.Wrap(err, "failed to create xz writer")
	}

	if _, err := io.Copy(xw, src); err != nil {
		xw.Close()
		out.Close()
		os.Remove(dst)
		return "", errors.NewIO("write", dst, err)
	}
	if err := xw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return "", errors.NewIO("write", dst, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", errors.NewIO("close", dst, err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return "", errors.NewIO("chmod", dst, err)
	}
	return dst, nil
}

// Digests holds content hashes of one file state.
type Digests struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Sum computes both digests of data.
func Sum(data []byte) Digests {
	sha := sha256.Sum256(data)
	b3 := blake3.Sum256(data)
	return Digests{
		SHA256: hex.EncodeToString(sha[:]),
		BLAKE3: hex.EncodeToString(b3[:]),
	}
}
