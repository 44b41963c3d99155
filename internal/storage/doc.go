// Package storage reads and writes block outputs in the on-disk formats
// named by core.StorageType.
//
// Every codec writes atomically: data goes to a temporary file (or
// directory) next to the destination and is renamed into place only after
// it has been fully written. A crash therefore leaves either the previous
// entry or nothing, never a truncated file that would be read back as a
// cache hit.
package storage
