package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/grader/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the grading HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "listen address (default :5000)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	logger.Info("starting the grader", zap.String("version", version))

	a, err := newApplication(ctx, logger, true, false)
	if err != nil {
		logger.Fatal("preparing the grader", zap.Error(err))
	}
	defer a.Close()

	srv := server.New(a.config.Server, a.evaluator, a.store, a.scorer, logger.Named("http"))
	if err := srv.Run(ctx); err != nil {
		logger.Error("http server failed", zap.Error(err))
		return
	}
}
