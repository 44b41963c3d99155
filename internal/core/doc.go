// Package core provides the domain models shared by every epochalyst block.
//
// # Design Principles
//
// All structures in this package adhere to the following constraints:
//
//  1. Block identity is content-derived: the same block name and parameters
//     always produce the same BlockHash, on any machine.
//  2. Cache arguments are validated before any file is touched.
//  3. Data values are plain gonum matrices so they can be stored in the
//     formats a competition notebook expects (.npy, .csv, .parquet).
//
// # Core Types
//
// BlockHash: the deterministic identity of a block or pipeline.
// CacheArgs: where and how a block output is cached.
// Frame: a dense matrix with named columns (dataframe output types).
// Chunked: a dense matrix split into row chunks (dask array output type).
package core
