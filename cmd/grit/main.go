// Command grit is the CLI over the grit daemon: a Git-backed,
// CRDT-converged issue and context tracker shared by humans and agents.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/leonletto/grit/internal/client"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/paths"
)

var (
	// Build info (set via ldflags).
	Version = "dev"
	Build   = "unknown"
)

var (
	// Global flags.
	flagRepo  string
	flagJSON  bool
	flagQuiet bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grit",
		Short: "Git-backed task and memory for humans and agents",
		Long: `Grit stores issues, comments, labels, and project context as an
append-only event log inside your Git repository, synchronized
peer-to-peer through ordinary push and pull.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", ".", "Repository path")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "JSON output for scripting")
	rootCmd.PersistentFlags().BoolVar(&flagQuiet, "quiet", false, "Suppress non-essential output")

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("grit v{{.Version}} (build: " + Build + ", " + goruntime.Version() + ")\n")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		reportError(err)
		os.Exit(exitCode(err))
	}
}

// usageError marks a bad-invocation failure (exit code 2) as opposed to
// a daemon/store failure.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	var ue *usageError
	if errors.As(err, &ue) {
		return 2
	}
	code := giterrors.CodeOf(err)
	var ee *client.EnvelopeError
	if errors.As(err, &ee) {
		code = ee.Code
	}
	switch code {
	case "NotARepo":
		return 4
	case "SyncConflict", "LockConflict":
		return 3
	case "Timeout", "WorkerNotFound", "Io":
		return 5
	default:
		return 1
	}
}

func reportError(err error) {
	if flagJSON {
		code := giterrors.CodeOf(err)
		var ee *client.EnvelopeError
		if errors.As(err, &ee) {
			code = ee.Code
		}
		var ue *usageError
		if errors.As(err, &ue) {
			code = "Usage"
		}
		out, _ := json.Marshal(map[string]any{
			"schema_version": 1,
			"ok":             false,
			"error": map[string]any{
				"code":    code,
				"message": err.Error(),
				"details": map[string]any{},
			},
		})
		fmt.Println(string(out))
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

// emit prints data as the schema-versioned envelope under --json, or
// hands it to human for terminal formatting otherwise.
func emit(data any, human func()) error {
	if flagJSON {
		out, err := json.Marshal(map[string]any{
			"schema_version": 1,
			"ok":             true,
			"data":           data,
		})
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	if flagQuiet {
		return nil
	}
	human()
	return nil
}

// isTTY reports whether stdout is a terminal; tables degrade to plain
// lines when piped.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// repoRoot resolves the working repo, mapping "no git repo upward" to
// the NotARepo taxonomy (exit code 4).
func repoRoot() (string, error) {
	root, err := paths.FindRepoRoot(flagRepo)
	if err != nil {
		return "", giterrors.Wrap(giterrors.ErrNotARepo, err)
	}
	return root, nil
}

// connect builds a client for the resolved repo.
func connect() (*client.Client, error) {
	root, err := repoRoot()
	if err != nil {
		return nil, err
	}
	return client.Connect(root)
}
