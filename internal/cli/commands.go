package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"epochalyst/internal/blocks"
	"epochalyst/internal/catalog"
	"epochalyst/internal/config"
	"epochalyst/internal/pipeline"
)

type rootFlags struct {
	workDir string
	verbose bool
}

// absWorkDir returns the --workdir flag, or the process working directory
// when the flag is unset.
func (f *rootFlags) absWorkDir() (string, error) {
	if f.workDir != "" {
		return f.workDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	return wd, nil
}

// NewRootCommand builds the epochalyst command tree. Command output goes to
// stdout; diagnostics go to stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "epochalyst",
		Short:         "Cached, hash-addressed training pipelines",
		Long:          "epochalyst builds model pipelines from YAML, caches every block output under its\nblock hash, and resumes from the last cached step on the next run.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
	})
	root.PersistentFlags().StringVar(&flags.workDir, "workdir", "", "absolute directory relative paths resolve against (default: current directory)")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newRunCommand(flags),
		newHashCommand(flags),
		newCacheCommand(flags),
		newInitCommand(flags),
	)
	return root
}

func newRunCommand(root *rootFlags) *cobra.Command {
	f := RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train on a CSV and write predictions for another",
		Long: `Builds the model pipeline described by --config, trains it on --train and
writes predictions for --test to --out.

Example:
  epochalyst run --config epochalyst.yaml --train train.csv --target price --test test.csv --out pred.csv`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			wd, err := root.absWorkDir()
			if err != nil {
				return err
			}
			f.WorkDir = wd
			f.Verbose = root.verbose
			inv, err := ParseRunFlags(f)
			if err != nil {
				return err
			}
			res, err := Execute(cmd.Context(), inv)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s succeeded (pipeline %s)\n", res.RunID, res.PipelineHash)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.Config, "config", "epochalyst.yaml", "pipeline configuration")
	cmd.Flags().StringVar(&f.Train, "train", "", "training CSV")
	cmd.Flags().StringVar(&f.Target, "target", "", "comma-separated target columns of the training CSV")
	cmd.Flags().StringVar(&f.Test, "test", "", "CSV to predict")
	cmd.Flags().StringVar(&f.Out, "out", "", "predictions CSV to write")
	cmd.Flags().StringVar(&f.Trace, "trace", "", "write the execution trace JSON here")
	return cmd
}

func newHashCommand(root *rootFlags) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Print the hash of the model pipeline and every block",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			wd, err := root.absWorkDir()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(wd, configPath)
			if err != nil {
				return err
			}
			model, err := BuildModel(cfg, blocks.Builtin(), pipeline.Runtime{}, wd)
			if err != nil {
				return err
			}
			for _, l := range Describe(model.Pipeline) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", l.Hash, l.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "epochalyst.yaml", "pipeline configuration")
	return cmd
}

func newCacheCommand(root *rootFlags) *cobra.Command {
	var catalogPath string
	open := func() (*catalog.Catalog, error) {
		wd, err := root.absWorkDir()
		if err != nil {
			return nil, err
		}
		p := catalogPath
		if p == "" {
			p = os.Getenv(config.EnvCatalog)
		}
		if p == "" {
			p = config.Default().CatalogPath
		}
		return catalog.Open(underWorkDir(wd, p))
	}

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the artifact catalog",
	}
	cmd.PersistentFlags().StringVar(&catalogPath, "catalog", "", "catalog database (default: $"+config.EnvCatalog+" or .epochalyst/catalog.db)")

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List catalogued artifacts",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := open()
			if err != nil {
				return err
			}
			defer cat.Close()
			return ListCache(cmd.Context(), cat, cmd.OutOrStdout())
		},
	}
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check every artifact against its recorded digest",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := open()
			if err != nil {
				return err
			}
			defer cat.Close()
			return VerifyCache(cmd.Context(), cat, cmd.OutOrStdout())
		},
	}
	var remove bool
	forget := &cobra.Command{
		Use:   "forget <path>",
		Short: "Remove an artifact from the catalog",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := open()
			if err != nil {
				return err
			}
			defer cat.Close()
			wd, err := root.absWorkDir()
			if err != nil {
				return err
			}
			return ForgetCache(cmd.Context(), cat, underWorkDir(wd, args[0]), remove, cmd.OutOrStdout())
		},
	}
	forget.Flags().BoolVar(&remove, "rm", false, "also delete the artifact from disk")

	cmd.AddCommand(ls, verify, forget)
	return cmd
}

func newInitCommand(root *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write an example pipeline configuration",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := root.absWorkDir()
			if err != nil {
				return err
			}
			path := "epochalyst.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			path = underWorkDir(wd, path)
			if _, err := os.Stat(path); err == nil && !force {
				return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf("%s already exists (use --force)", path)}
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Example().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", filepath.Clean(path))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func loadConfig(workDir, path string) (*config.Config, error) {
	cfg, err := config.Load(underWorkDir(workDir, path))
	if err != nil && !errors.Is(err, config.ErrInvalidConfig) {
		return nil, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}
	return cfg, err
}

// usageArgs reports argument count errors as invalid invocations.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return &InvocationError{ExitCode: ExitInvalidInvocation, Message: err.Error()}
		}
		return nil
	}
}
