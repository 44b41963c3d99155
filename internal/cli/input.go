package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"epochalyst/internal/blocks"
	"epochalyst/internal/config"
)

// Process exit codes.
const (
	// ExitSuccess means predictions were written.
	ExitSuccess = 0
	// ExitPipelineFailure means a block failed while training or predicting.
	ExitPipelineFailure = 1
	// ExitInvalidInvocation means bad flags or unreadable input files.
	ExitInvalidInvocation = 2
	// ExitConfigError means the configuration could not be loaded or built.
	ExitConfigError = 3
	// ExitInternalError means anything else, including panics.
	ExitInternalError = 4
)

type TraceConfig struct {
	Enabled bool
	Path    string
}

// RunFlags are the raw `epochalyst run` flags.
type RunFlags struct {
	WorkDir string
	Config  string
	Train   string
	Target  string
	Test    string
	Out     string
	Trace   string
	Verbose bool
}

// Invocation is the canonical description of a run.
//
// All paths are cleaned and relative paths are resolved against WorkDir,
// which must be absolute. Nothing here depends on the process working
// directory.
type Invocation struct {
	WorkDir    string
	ConfigPath string
	TrainPath  string
	TestPath   string
	OutputPath string
	Targets    []string
	Trace      TraceConfig
	Verbose    bool
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ParseRunFlags validates raw flags into a canonical Invocation.
func ParseRunFlags(f RunFlags) (Invocation, error) {
	workDir := filepath.Clean(f.WorkDir)
	if strings.TrimSpace(f.WorkDir) == "" {
		return Invocation{}, invalidInvocationf("--workdir is required")
	}
	if !filepath.IsAbs(workDir) {
		return Invocation{}, invalidInvocationf("--workdir must be an absolute path (got %q)", workDir)
	}

	required := []struct{ flag, value string }{
		{"--config", f.Config},
		{"--train", f.Train},
		{"--target", f.Target},
		{"--test", f.Test},
		{"--out", f.Out},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return Invocation{}, invalidInvocationf("%s is required", r.flag)
		}
	}

	inv := Invocation{WorkDir: workDir, Verbose: f.Verbose}
	var err error
	if inv.ConfigPath, err = resolveUnderWorkDir(workDir, f.Config); err != nil {
		return Invocation{}, err
	}
	if inv.TrainPath, err = resolveUnderWorkDir(workDir, f.Train); err != nil {
		return Invocation{}, err
	}
	if inv.TestPath, err = resolveUnderWorkDir(workDir, f.Test); err != nil {
		return Invocation{}, err
	}
	if inv.OutputPath, err = resolveUnderWorkDir(workDir, f.Out); err != nil {
		return Invocation{}, err
	}
	if inv.Targets, err = parseTargets(f.Target); err != nil {
		return Invocation{}, err
	}

	if strings.TrimSpace(f.Trace) != "" {
		resolvedTrace, err := resolveUnderWorkDir(workDir, f.Trace)
		if err != nil {
			return Invocation{}, err
		}
		inv.Trace = TraceConfig{Enabled: true, Path: resolvedTrace}
	}
	return inv, nil
}

// parseTargets splits a comma-separated list of target column names.
func parseTargets(raw string) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, part := range strings.Split(raw, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			return nil, invalidInvocationf("--target has an empty column name")
		}
		if seen[name] {
			return nil, invalidInvocationf("--target lists %q twice", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

func resolveUnderWorkDir(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if clean == "." {
		return "", invalidInvocationf("path must not be '.'")
	}
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// ExitCode maps an error to its semantic exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var failure *PipelineFailure
	if errors.As(err, &failure) || errors.Is(err, ErrVerifyFailed) {
		return ExitPipelineFailure
	}
	if errors.Is(err, config.ErrInvalidConfig) || errors.Is(err, blocks.ErrUnknownBlock) || errors.Is(err, blocks.ErrInvalidParams) {
		return ExitConfigError
	}
	return ExitInternalError
}

// PipelineFailure wraps an error raised while training or predicting.
type PipelineFailure struct {
	Stage string
	Err   error
}

func (e *PipelineFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *PipelineFailure) Unwrap() error { return e.Err }
