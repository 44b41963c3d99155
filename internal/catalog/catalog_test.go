package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epochalyst/internal/core"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "meta", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDigest_FileIsCIDv1AndContentSensitive(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.bin")
	require.NoError(t, os.WriteFile(p, []byte("hello"), 0o644))

	d1, size, err := Digest(p)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)
	assert.True(t, strings.HasPrefix(d1, "b"), "CIDv1 strings are base32 with a 'b' prefix")

	require.NoError(t, os.WriteFile(p, []byte("hellp"), 0o644))
	d2, _, err := Digest(p)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestDigest_DirectoryCoversNamesAndContent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stack")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.npy"), []byte("aa"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.npy"), []byte("bb"), 0o644))

	d1, size, err := Digest(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	require.NoError(t, os.Rename(filepath.Join(dir, "1.npy"), filepath.Join(dir, "2.npy")))
	d2, _, err := Digest(dir)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2, "renaming a chunk must change the digest")
}

func TestRecorder_RecordListVerifyForget(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	dir := t.TempDir()
	good := filepath.Join(dir, "good.npy")
	changed := filepath.Join(dir, "changed.npy")
	gone := filepath.Join(dir, "gone.npy")
	for _, p := range []string{good, changed, gone} {
		require.NoError(t, os.WriteFile(p, []byte(p), 0o644))
	}

	rec := &Recorder{Catalog: c, RunID: "run-1"}
	args := core.CacheArgs{OutputDataType: core.NumpyArray, StorageType: core.StorageNpy, StoragePath: dir}
	for _, p := range []string{good, changed, gone} {
		require.NoError(t, rec.RecordArtifact(ctx, filepath.Base(p), args, p))
	}
	// Re-recording the same path replaces the row.
	require.NoError(t, rec.RecordArtifact(ctx, "good.npy", args, good))

	entries, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, changed, entries[0].Path)
	assert.Equal(t, "run-1", entries[0].RunID)
	assert.Equal(t, "numpy_array", entries[0].OutputDataType)
	assert.False(t, entries[0].CreatedAt.IsZero())

	require.NoError(t, os.WriteFile(changed, []byte("tampered"), 0o644))
	require.NoError(t, os.Remove(gone))

	problems, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []Problem{
		{Path: changed, Reason: ReasonMismatch},
		{Path: gone, Reason: ReasonMissing},
	}, problems)

	existed, err := c.Forget(ctx, gone)
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = c.Forget(ctx, gone)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRuns_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := openTemp(t)

	require.NoError(t, c.StartRun(ctx, Run{RunID: "a", PipelineHash: "p1"}))
	require.NoError(t, c.StartRun(ctx, Run{RunID: "b", PipelineHash: "p1"}))
	require.NoError(t, c.FinishRun(ctx, "a", nil))
	require.NoError(t, c.FinishRun(ctx, "b", errors.New("block failed")))

	runs, err := c.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	byID := map[string]Run{}
	for _, r := range runs {
		byID[r.RunID] = r
	}
	assert.Equal(t, RunSucceeded, byID["a"].Status)
	assert.Equal(t, RunFailed, byID["b"].Status)
	assert.Equal(t, "block failed", byID["b"].Error)
	assert.False(t, byID["b"].EndTime.IsZero())

	assert.Error(t, c.FinishRun(ctx, "missing", nil))
}

func TestRun_ValidateJoinsErrors(t *testing.T) {
	err := Run{Status: "weird"}.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "run_id is required")
	assert.Contains(t, msg, "pipeline_hash is required")
	assert.Contains(t, msg, "start_time is required")
	assert.Contains(t, msg, `invalid status "weird"`)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NoError(t, r.RecordArtifact(context.Background(), "x", core.CacheArgs{}, "/nope"))
}
