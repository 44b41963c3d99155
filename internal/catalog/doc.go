// Package catalog keeps a SQLite registry of cache artifacts and pipeline runs.
//
// Every artifact stored by a block is recorded with a content identifier
// (CIDv1, raw codec, sha2-256 multihash) so a later Verify can detect
// entries that were modified or deleted behind the cache's back.
package catalog
