package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Digest returns the content identifier and total size of the file or
// directory at path.
//
// Files hash their bytes. Directories hash every regular file in lexical
// walk order as (relative path, length, content), each length-prefixed.
func Digest(path string) (string, int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	var size int64
	if !info.IsDir() {
		n, err := copyFile(h, path)
		if err != nil {
			return "", 0, err
		}
		size = n
	} else {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(path, p)
			if err != nil {
				return err
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			writePrefixed(h, []byte(filepath.ToSlash(rel)))
			var length [8]byte
			binary.BigEndian.PutUint64(length[:], uint64(fi.Size()))
			h.Write(length[:])
			n, err := copyFile(h, p)
			if err != nil {
				return err
			}
			size += n
			return nil
		})
		if err != nil {
			return "", 0, err
		}
	}

	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return "", 0, fmt.Errorf("encoding multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), size, nil
}

func copyFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func writePrefixed(w io.Writer, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	w.Write(length[:])
	w.Write(data)
}
