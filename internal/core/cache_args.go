package core

import (
	"strings"
)

// OutputDataType names the in-memory representation a cached value is
// loaded as.
type OutputDataType string

const (
	NumpyArray      OutputDataType = "numpy_array"
	DaskArray       OutputDataType = "dask_array"
	PandasDataFrame OutputDataType = "pandas_dataframe"
	DaskDataFrame   OutputDataType = "dask_dataframe"
)

// StorageType names the on-disk format of a cached value. The value is used
// verbatim as the file extension.
type StorageType string

const (
	StorageNpy      StorageType = ".npy"
	StorageNpyStack StorageType = ".npy_stack"
	StorageCSV      StorageType = ".csv"
	StorageParquet  StorageType = ".parquet"
	StorageGob      StorageType = ".gob"
)

// supported lists the storage types each output data type can round-trip.
var supported = map[OutputDataType]map[StorageType]bool{
	NumpyArray: {
		StorageNpy: true, StorageCSV: true, StorageParquet: true, StorageGob: true,
	},
	DaskArray: {
		StorageNpy: true, StorageNpyStack: true, StorageCSV: true, StorageParquet: true, StorageGob: true,
	},
	PandasDataFrame: {
		StorageCSV: true, StorageParquet: true, StorageGob: true,
	},
	DaskDataFrame: {
		StorageCSV: true, StorageParquet: true, StorageGob: true,
	},
}

// CacheArgs describes where and how a block output is cached.
//
// Example (YAML):
//
//	output_data_type: numpy_array
//	storage_type: .npy
//	storage_path: data/processed
type CacheArgs struct {
	OutputDataType OutputDataType `json:"output_data_type,omitempty" yaml:"output_data_type,omitempty"`
	StorageType    StorageType    `json:"storage_type,omitempty" yaml:"storage_type,omitempty"`
	StoragePath    string         `json:"storage_path,omitempty" yaml:"storage_path,omitempty"`
}

// IsZero reports whether caching is disabled for these args.
func (a *CacheArgs) IsZero() bool {
	return a == nil || (a.OutputDataType == "" && a.StorageType == "" && strings.TrimSpace(a.StoragePath) == "")
}

// Validate checks that all fields are set and the combination is supported.
func (a *CacheArgs) Validate() error {
	if a.IsZero() {
		return invalidArgsf("cache args are empty")
	}
	if a.OutputDataType == "" {
		return invalidArgsf("output_data_type is required")
	}
	if a.StorageType == "" {
		return invalidArgsf("storage_type is required")
	}
	if strings.TrimSpace(a.StoragePath) == "" {
		return invalidArgsf("storage_path is required")
	}
	storages, ok := supported[a.OutputDataType]
	if !ok {
		return invalidArgsf("unknown output_data_type %q", a.OutputDataType)
	}
	if !storages[a.StorageType] {
		return invalidArgsf("storage_type %q is not supported for %s", a.StorageType, a.OutputDataType)
	}
	return nil
}

// Supports reports whether the output type can be stored with the storage type.
func Supports(out OutputDataType, st StorageType) bool {
	return supported[out][st]
}
