package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"podfleet/cmd/root"
	"podfleet/controllers"
	"podfleet/internal/config"
	"podfleet/internal/env"
	"podfleet/internal/logger"
	"podfleet/internal/rpc"
	"podfleet/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动podfleet守护进程",
	Run: func(cmd *cobra.Command, args []string) {
		env.Daemon = true
		if err := startServer(context.Background()); err != nil {
			logger.Fatal(err)
		}
	},
}

/**
 * Start the podfleet daemon: HTTP API plus the health supervision loops
 * @description
 * - Listens on both the configured TCP address and the unix socket the CLI
 *   prefers
 * - Reattaches services a previous daemon instance left running before
 *   serving any request
 */
func startServer(ctx context.Context) error {
	if config.Config.Server.Mode != "" {
		gin.SetMode(config.Config.Server.Mode)
	}
	router := gin.Default()

	fm, err := services.GetFleetManager()
	if err != nil {
		return fmt.Errorf("failed to initialize fleet manager: %w", err)
	}
	// 先接管遗留的运行单元，再开始对外服务
	fm.Reattach(ctx)

	controllers.NewAPIController().RegisterRoutes(router)
	controllers.NewFleetController(fm).RegisterRoutes(router)

	addrs := []ListenAddr{
		{Network: "tcp", Address: config.Config.Server.Address},
	}
	if IsUnixSocketSupported() {
		socketDir := filepath.Join(env.PodfleetDir, "run")
		if err := os.MkdirAll(socketDir, 0755); err != nil {
			logger.Warnf("Failed to create socket directory: %v", err)
		} else {
			addrs = append(addrs, ListenAddr{
				Network: "unix",
				Address: rpc.GetSocketPath("podfleet.sock", socketDir),
			})
		}
	}
	listeners, err := CreateListeners(addrs)
	if len(listeners) == 0 {
		return fmt.Errorf("no listener could be created: %w", err)
	}

	errCh := make(chan error, len(listeners))
	for _, listener := range listeners {
		l := listener
		logger.Infof("podfleet daemon listening on %s", l.Addr())
		go func() {
			errCh <- router.RunListener(l)
		}()
	}
	return <-errCh
}

func init() {
	root.RootCmd.AddCommand(serverCmd)
}
