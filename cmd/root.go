package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cardhaus/cartsync/internal/constants"
	"github.com/cardhaus/cartsync/internal/log"
)

func Start() {
	logger := log.InitLogger("/var/log/cartsync.log").
		With().
		Str(log.KEY_APP_NAME, constants.APP_CART_SYNC).
		Str(log.KEY_TAG, "main Start").
		Logger()

	logger.Info().Msg("adding listener for SIGINT and SIGTERM")
	c, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info().Msg("added listener for SIGINT and SIGTERM")

	c = logger.WithContext(c)

	rootCmd := &cobra.Command{Use: "cartsync"}
	commands := []*cobra.Command{
		{
			Use:   "tab",
			Short: "Run one cart tab host",
			Run: func(cmd *cobra.Command, args []string) {
				runTabHost(cmd.Context())
			},
		},
		{
			Use:   "catalog",
			Short: "Run the catalog price/stock stub service",
			Run: func(cmd *cobra.Command, args []string) {
				runCatalogService(cmd.Context())
			},
		},
	}
	rootCmd.AddCommand(commands...)
	if err := rootCmd.ExecuteContext(c); err != nil {
		logger.Fatal().Err(err).Msgf("error when executing command=%s", err.Error())
	}
}
