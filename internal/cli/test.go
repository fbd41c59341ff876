package cli

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/offsync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string // glob over scenario file names, without extension
}

// ScenarioResult is one scenario's verdict.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the test command's JSON payload.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	r.Total++
	if s.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>...",
		Short: "Run sync scenarios",
		Long: `Run sync scenarios against an in-memory queue and reference remote.

Each scenario's assertions are checked. When golden/<name>.golden exists
next to the scenario file, the result snapshot must match it byte for byte.
--update writes the snapshot instead.

Exit codes:
  0 - Every scenario passed
  1 - At least one scenario failed
  2 - Command error (missing path, bad filter)

Examples:
  offsync test ./scenarios
  offsync test ./scenarios --filter "retry-*"
  offsync test ./scenarios/timestamp-conflict.yaml --update`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current results")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, cmd *cobra.Command, paths []string) error {
	if _, err := filepath.Match(opts.Filter, ""); err != nil {
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	files, err := collectScenarios(paths, opts.Filter)
	if err != nil {
		return err
	}

	out := newFormatter(opts.RootOptions, cmd)
	result := TestResult{Scenarios: []ScenarioResult{}}

	if len(files) == 0 {
		if out.isJSON() {
			return out.Success(result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.Verbose {
		logger = newLogger(opts.RootOptions, cmd)
	}

	for _, file := range files {
		sr := checkScenario(file, opts.Update, logger)
		result.add(sr)
		if !out.isJSON() {
			printScenario(cmd.OutOrStdout(), sr, opts.Update)
		}
	}

	failed := NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))

	if out.isJSON() {
		if result.Failed == 0 {
			return out.Success(result)
		}
		_ = out.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: "TEST_FAILED", Message: failed.Message},
		})
		return failed
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return failed
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}

// collectScenarios expands paths into scenario files. Directories are
// walked for .yaml and .yml files, skipping golden/ directories. Explicit
// files are taken as given, subject to filter.
func collectScenarios(paths []string, filter string) ([]string, error) {
	var files []string
	keep := func(path string) {
		if matchesFilter(path, filter) {
			files = append(files, path)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		switch {
		case os.IsNotExist(err):
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", root))
		case err != nil:
			return nil, WrapExitError(ExitCommandError, "failed to read scenario path", err)
		case !info.IsDir():
			keep(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if d.Name() == "golden" && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
				keep(path)
			}
			return nil
		})
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	}
	return files, nil
}

// matchesFilter reports whether the file's base name without extension
// matches filter. The pattern is checked once up front.
func matchesFilter(path, filter string) bool {
	if filter == "" {
		return true
	}
	ok, _ := filepath.Match(filter, scenarioName(path))
	return ok
}

func scenarioName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// checkScenario runs one scenario and compares, or rewrites, its golden
// snapshot.
func checkScenario(file string, update bool, logger *slog.Logger) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file)}
	fail := func(format string, args ...any) ScenarioResult {
		sr.Errors = append(sr.Errors, fmt.Sprintf(format, args...))
		return sr
	}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	sr.Name = scenario.Name

	result, err := harness.RunWithLogger(scenario, logger)
	if err != nil {
		return fail("execution error: %v", err)
	}
	sr.Errors = append(sr.Errors, result.Errors...)

	snapshot, err := harness.MarshalSnapshot(scenario.Name, result)
	if err != nil {
		return fail("failed to build snapshot: %v", err)
	}

	golden := goldenFilePath(file)
	if update {
		if err := writeGolden(golden, snapshot); err != nil {
			return fail("%v", err)
		}
	} else {
		want, err := os.ReadFile(golden)
		switch {
		case os.IsNotExist(err):
			// assertions only
		case err != nil:
			return fail("failed to read golden file: %v", err)
		case !bytes.Equal(want, snapshot):
			return fail("snapshot does not match golden file %s (run with --update to regenerate)", golden)
		}
	}

	sr.Pass = len(sr.Errors) == 0
	return sr
}

func printScenario(w io.Writer, sr ScenarioResult, update bool) {
	if !sr.Pass {
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	if update {
		fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✓ %s\n", sr.Name)
}

// goldenFilePath maps dir/name.yaml to dir/golden/name.golden.
func goldenFilePath(scenarioFile string) string {
	return filepath.Join(filepath.Dir(scenarioFile), "golden", scenarioName(scenarioFile)+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}
