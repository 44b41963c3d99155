package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"epochalyst/internal/catalog"
)

// ErrVerifyFailed is returned by VerifyCache when any entry is missing or
// changed on disk.
var ErrVerifyFailed = errors.New("cache verification failed")

// ListCache writes one line per catalogued artifact.
func ListCache(ctx context.Context, cat *catalog.Catalog, w io.Writer) error {
	entries, err := cat.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSIZE\tRUN\tDIGEST\tPATH")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s%s\t%d\t%s\t%s\t%s\n",
			e.Name, e.OutputDataType, e.StorageType, e.Size, shortID(e.RunID), e.Digest, e.Path)
	}
	return tw.Flush()
}

// VerifyCache re-digests every artifact and reports the ones that no longer
// match the catalog.
func VerifyCache(ctx context.Context, cat *catalog.Catalog, w io.Writer) error {
	problems, err := cat.Verify(ctx)
	if err != nil {
		return err
	}
	for _, p := range problems {
		fmt.Fprintf(w, "%s: %s\n", p.Path, p.Reason)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %d problem(s)", ErrVerifyFailed, len(problems))
	}
	fmt.Fprintln(w, "ok")
	return nil
}

// ForgetCache removes an artifact from the catalog and, when remove is set,
// from disk.
func ForgetCache(ctx context.Context, cat *catalog.Catalog, path string, remove bool, w io.Writer) error {
	found, err := cat.Forget(ctx, path)
	if err != nil {
		return err
	}
	if !found {
		return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf("%s is not in the catalog", path)}
	}
	if remove {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	fmt.Fprintf(w, "forgot %s\n", path)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
