package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leonletto/grit/internal/config"
	"github.com/leonletto/grit/internal/daemon"
	"github.com/leonletto/grit/internal/daemon/rpc"
	"github.com/leonletto/grit/internal/paths"
	"github.com/leonletto/grit/internal/worker"
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the grit daemon in the foreground",
		RunE: func(_ *cobra.Command, _ []string) error {
			root, err := repoRoot()
			if err != nil {
				return err
			}
			return runDaemon(root)
		},
	}
	return cmd
}

// runDaemon wires lock, socket server, worker pool, and RPC handlers
// together, then blocks until a signal or shutdown command arrives.
func runDaemon(repoRoot string) error {
	gritDir, err := paths.GritDir(repoRoot)
	if err != nil {
		return err
	}
	repoCfg, err := config.LoadRepoConfig(gritDir)
	if err != nil {
		return err
	}

	socketPath := paths.SocketPath(gritDir)
	server := daemon.NewServer(socketPath)

	registry := daemon.NewClientRegistry()
	broadcaster := daemon.NewBroadcaster(registry)
	pool := worker.NewPool(broadcaster, repoCfg.Daemon.SyncInterval(), !repoCfg.Daemon.LocalOnly)
	defer pool.CloseAll()

	lifecycle := daemon.NewLifecycle(server, paths.DaemonPIDPath(gritDir))
	lifecycle.SetRepoInfo(repoRoot, socketPath)
	lifecycle.SetLockFile(paths.DaemonLockPath(gritDir))

	handlers := &rpc.Handlers{
		Pool:     pool,
		Registry: registry,
		Shutdown: lifecycle.Shutdown,
	}
	handlers.Register(server)

	fmt.Printf("grit daemon listening on %s\n", socketPath)
	return lifecycle.Run(context.Background())
}
