// Package bridge is the service's composition root: a cobra command that
// loads configuration, wires every domain package together, and starts
// the fiber HTTP server plus the background queue workers and sweeper.
// Grounded on cmd/root.go's init/initFlags/initEnvConfig/initApp split and
// cmd/rest.go's route-registration + graceful-shutdown shape, trimmed
// down to this service's own dependency graph.
package bridge

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/chatmediator/wecom-bridge/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "wecom-bridge",
	Short: "Mediates chat messages between an IM platform and an Agent service",
}

func init() {
	cobra.OnInitialize(initApp)
}

func initApp() {
	loaded, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("[STARTUP] failed to load configuration")
	}
	cfg = loaded

	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
