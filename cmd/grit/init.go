package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/leonletto/grit/internal/config"
	"github.com/leonletto/grit/internal/paths"
)

func initCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize grit in the current repository",
		RunE: func(_ *cobra.Command, _ []string) error {
			root, err := repoRoot()
			if err != nil {
				return err
			}
			gritDir, err := paths.GritDir(root)
			if err != nil {
				return err
			}

			if name == "" {
				name = defaultActorName()
			}

			cfg, err := config.LoadRepoConfig(gritDir)
			if err != nil {
				return err
			}
			if cfg.DefaultActor != "" {
				return emit(map[string]string{
					"grit_dir": gritDir,
					"actor_id": cfg.DefaultActor,
				}, func() {
					fmt.Printf("already initialized (actor %s)\n", cfg.DefaultActor[:12])
				})
			}

			actorID, err := config.CreateActor(gritDir, name)
			if err != nil {
				return usagef("create actor: %v", err)
			}

			return emit(map[string]string{
				"grit_dir": gritDir,
				"actor_id": actorID.String(),
				"name":     name,
			}, func() {
				fmt.Printf("initialized grit at %s\nactor %s (%s)\n", gritDir, actorID.String(), name)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Actor display name (defaults to your username)")
	return cmd
}

func defaultActorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return sanitizeActorName(u.Username)
	}
	return "actor"
}

// sanitizeActorName lowercases and strips characters the actor-name
// validator rejects, so `grit init` works out of the box for usernames
// like "First.Last".
func sanitizeActorName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		}
	}
	if len(out) < 2 {
		return "actor"
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return string(out)
}
