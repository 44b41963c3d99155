package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"sort"
)

// BlockHash represents the deterministic identity of a block or pipeline.
//
// It is used as the cache key for block outputs, so any change to the
// components below MUST produce a different BlockHash:
//   - Block kind (transformation, training, pipeline kind)
//   - Block name
//   - Block parameters
//   - Child hashes, in order (pipelines only)
type BlockHash string

// HashInput contains all components required for computing a BlockHash.
type HashInput struct {
	// Kind distinguishes blocks with the same name but different roles.
	Kind string

	// Name is the block name.
	Name string

	// Params are the block parameters. Map order never affects the hash.
	// Values are encoded as JSON, so they must be JSON-marshalable.
	Params map[string]any

	// Children are the hashes of nested blocks. Order is significant.
	Children []BlockHash
}

// Hasher computes deterministic hashes for blocks.
//
// The hash computation is designed to be:
//   - Deterministic: identical inputs always produce identical hashes
//   - Ordered: parameters are sorted by key before hashing
//   - Unambiguous: every field is length-prefixed
type Hasher struct{}

// NewHasher creates a new Hasher.
func NewHasher() *Hasher {
	return &Hasher{}
}

// ComputeHash computes a deterministic BlockHash from the given input.
//
// The hash is computed by concatenating all components in a fixed order:
//  1. Kind
//  2. Name
//  3. Sorted parameters (key, canonical JSON value)
//  4. Children in declaration order
//
// A parameter that cannot be encoded as JSON is an error.
func (h *Hasher) ComputeHash(input HashInput) (BlockHash, error) {
	hasher := sha256.New()

	writeField(hasher, []byte(input.Kind))
	writeField(hasher, []byte(input.Name))

	keys := make([]string, 0, len(input.Params))
	for k := range input.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	writeCount(hasher, len(keys))
	for _, k := range keys {
		// encoding/json sorts map keys, which keeps nested maps canonical.
		value, err := json.Marshal(input.Params[k])
		if err != nil {
			return "", fmt.Errorf("encoding param %q: %w", k, err)
		}
		writeField(hasher, []byte(k))
		writeField(hasher, value)
	}

	writeCount(hasher, len(input.Children))
	for _, child := range input.Children {
		writeField(hasher, []byte(child))
	}

	sum := hasher.Sum(nil)
	return BlockHash(hex.EncodeToString(sum)), nil
}

// MustComputeHash is like ComputeHash but panics on unencodable params.
// Use only for parameters that are known to be plain values.
func (h *Hasher) MustComputeHash(input HashInput) BlockHash {
	out, err := h.ComputeHash(input)
	if err != nil {
		panic(err)
	}
	return out
}

// String returns the string representation of the BlockHash.
func (b BlockHash) String() string {
	return string(b)
}

// Short returns the first 12 characters of the hash, for log lines.
func (b BlockHash) Short() string {
	if len(b) <= 12 {
		return string(b)
	}
	return string(b[:12])
}

// writeField writes an 8-byte big-endian length prefix followed by data.
func writeField(h hash.Hash, data []byte) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(data)))
	h.Write(length[:])
	h.Write(data)
}

func writeCount(h hash.Hash, n int) {
	var count [8]byte
	binary.BigEndian.PutUint64(count[:], uint64(n))
	writeField(h, count[:])
}
