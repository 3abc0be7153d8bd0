package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/store"
)

func issueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Create and inspect issues",
	}
	cmd.AddCommand(issueCreateCmd())
	cmd.AddCommand(issueListCmd())
	cmd.AddCommand(issueGetCmd())
	cmd.AddCommand(issueCommentCmd())
	cmd.AddCommand(issueSetCmd())
	cmd.AddCommand(issueCloseCmd())
	cmd.AddCommand(issueReopenCmd())
	return cmd
}

func issueSetCmd() *cobra.Command {
	var field, value string
	cmd := &cobra.Command{
		Use:   "set <issue-id>",
		Short: "Set a field (title, body, priority, issue_type, assignee)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if field == "" {
				return usagef("--field is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issue, err := c.IssueSetField(args[0], field, value)
			if err != nil {
				return err
			}
			return emit(issue, func() {
				fmt.Printf("set %s on %s\n", field, identity.ShortHex(mustID(issue.ID), 12))
			})
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Field name")
	cmd.Flags().StringVar(&value, "value", "", "New value")
	return cmd
}

func issueCreateCmd() *cobra.Command {
	var title, body string
	var labels []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new issue",
		RunE: func(_ *cobra.Command, _ []string) error {
			if title == "" {
				return usagef("--title is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issue, err := c.IssueCreate(title, body, labels)
			if err != nil {
				return err
			}
			return emit(issue, func() {
				fmt.Printf("created %s  %s\n", identity.ShortHex(mustID(issue.ID), 12), issue.Title)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Issue title")
	cmd.Flags().StringVar(&body, "body", "", "Issue body")
	cmd.Flags().StringSliceVar(&labels, "label", nil, "Initial label (repeatable)")
	return cmd
}

func issueListCmd() *cobra.Command {
	var state, label string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		RunE: func(_ *cobra.Command, _ []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issues, err := c.IssueList(state, label)
			if err != nil {
				return err
			}
			return emit(issues, func() { printIssueTable(issues) })
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Filter by state (open|closed)")
	cmd.Flags().StringVar(&label, "label", "", "Filter by label")
	return cmd
}

func issueGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <issue-id>",
		Short: "Show one issue with its comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issue, err := c.IssueGet(args[0])
			if err != nil {
				return err
			}
			return emit(issue, func() { printIssue(issue) })
		},
	}
}

func issueCommentCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "comment <issue-id>",
		Short: "Comment on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if body == "" {
				return usagef("--body is required")
			}
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			commentID, err := c.IssueComment(args[0], body)
			if err != nil {
				return err
			}
			return emit(map[string]string{"comment_id": commentID}, func() {
				fmt.Printf("comment %s added\n", commentID[:12])
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "Comment body")
	return cmd
}

func issueCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <issue-id>",
		Short: "Close an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issue, err := c.IssueClose(args[0])
			if err != nil {
				return err
			}
			return emit(issue, func() {
				fmt.Printf("closed %s  %s\n", identity.ShortHex(mustID(issue.ID), 12), issue.Title)
			})
		},
	}
}

func issueReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <issue-id>",
		Short: "Reopen a closed issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			issue, err := c.IssueReopen(args[0])
			if err != nil {
				return err
			}
			return emit(issue, func() {
				fmt.Printf("reopened %s  %s\n", identity.ShortHex(mustID(issue.ID), 12), issue.Title)
			})
		},
	}
}

func printIssueTable(issues []store.Issue) {
	if len(issues) == 0 {
		fmt.Println("no issues")
		return
	}
	if isTTY() {
		fmt.Printf("%-12s  %-6s  %s\n", "ID", "STATE", "TITLE")
	}
	for _, is := range issues {
		labels := ""
		for _, l := range is.Labels {
			labels += " [" + l + "]"
		}
		fmt.Printf("%-12s  %-6s  %s%s\n", is.ID[:12], is.State, is.Title, labels)
	}
}

func printIssue(is store.Issue) {
	fmt.Printf("issue   %s\n", is.ID)
	fmt.Printf("state   %s\n", is.State)
	fmt.Printf("title   %s\n", is.Title)
	if is.Body != "" {
		fmt.Printf("body    %s\n", is.Body)
	}
	if len(is.Labels) > 0 {
		fmt.Printf("labels  %v\n", is.Labels)
	}
	if is.Assignee != "" {
		fmt.Printf("assignee %s\n", is.Assignee)
	}
	for _, comment := range is.Comments {
		fmt.Printf("\n-- %s (%s)\n%s\n", comment.ID[:12], comment.ActorID[:12], comment.Body)
	}
}

func mustID(hex string) identity.ID {
	id, _ := identity.ParseID(hex)
	return id
}
