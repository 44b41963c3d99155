package cli

import (
	"context"
	"io"
	"strings"
)

// Run is a high-level CLI entrypoint suitable for black-box tests.
// It accepts the argument slice (excluding argv[0]) and returns the semantic
// exit code plus any error.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (int, error) {
	root := NewRootCommand(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if strings.HasPrefix(err.Error(), "unknown command") {
			err = &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
		}
		return ExitCode(err), err
	}
	return ExitSuccess, nil
}
