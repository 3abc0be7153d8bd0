package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonletto/grit/internal/gitctx"
)

func contextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Record and read file/project context",
	}
	cmd.AddCommand(contextSetCmd())
	cmd.AddCommand(contextGetCmd())
	cmd.AddCommand(contextListCmd())
	return cmd
}

func contextSetCmd() *cobra.Command {
	var path, summary, key, value string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set file context (--path) or a project key (--key)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if (path == "") == (key == "") {
				return usagef("exactly one of --path or --key is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if key != "" {
				if err := c.ContextSetProject(key, value); err != nil {
					return err
				}
				return emit(map[string]string{"key": key}, func() {
					fmt.Printf("project context %q set\n", key)
				})
			}

			snap, err := gitctx.Snapshot(c.RepoRoot, path)
			if err != nil {
				return usagef("read %s: %v", path, err)
			}
			if summary == "" {
				summary, _ = gitctx.SummarizeDiff(c.RepoRoot, "HEAD", path)
			}
			if err := c.ContextSetFile(snap.Path, snap.Language, nil, summary, snap.ContentHash[:]); err != nil {
				return err
			}
			return emit(map[string]string{"path": path}, func() {
				fmt.Printf("file context for %s set\n", path)
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Repo-relative file path")
	cmd.Flags().StringVar(&summary, "summary", "", "Override the derived change summary")
	cmd.Flags().StringVar(&key, "key", "", "Project context key")
	cmd.Flags().StringVar(&value, "value", "", "Project context value (with --key)")
	return cmd
}

func contextGetCmd() *cobra.Command {
	var path, key string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Read file context (--path) or a project key (--key)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if (path == "") == (key == "") {
				return usagef("exactly one of --path or --key is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if key != "" {
				entry, err := c.ContextGetProject(key)
				if err != nil {
					return err
				}
				return emit(entry, func() {
					fmt.Printf("%s = %s\n", entry.Key, entry.Value)
				})
			}

			fc, err := c.ContextGetFile(path)
			if err != nil {
				return err
			}
			return emit(fc, func() {
				fmt.Printf("path      %s\nlanguage  %s\nsummary   %s\n", fc.Path, fc.Language, fc.Summary)
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "Repo-relative file path")
	cmd.Flags().StringVar(&key, "key", "", "Project context key")
	return cmd
}

func contextListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all context records",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			result, err := c.ContextList()
			if err != nil {
				return err
			}
			return emit(result, func() {
				for _, fc := range result.Files {
					fmt.Printf("file  %-40s %s\n", fc.Path, fc.Summary)
				}
				for _, e := range result.Project {
					fmt.Printf("proj  %s = %s\n", e.Key, e.Value)
				}
				if len(result.Files) == 0 && len(result.Project) == 0 {
					fmt.Println("no context recorded")
				}
			})
		},
	}
}
