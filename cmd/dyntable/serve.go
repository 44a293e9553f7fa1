package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dynamic-table/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, optionally with an embedded batch consumer",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Server.Mode == "release" {
			gin.SetMode(gin.ReleaseMode)
		}
		metrics.Init()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		router, stopRouter := newRouter(cfg, a.handlers())
		defer stopRouter()

		// stays nil, and so never ready, without an embedded consumer
		var consumerDone chan error
		if a.consumer != nil && cfg.Queue.EmbeddedConsumer {
			consumerDone = make(chan error, 1)
			go func() { consumerDone <- a.consumer.Run(ctx) }()
			log.WithField("queue", cfg.Queue.Name).Info("embedded consumer started")
		}

		srv := &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		}
		serveErr := make(chan error, 1)
		go func() {
			log.WithField("addr", srv.Addr).Info("starting server")
			serveErr <- srv.ListenAndServe()
		}()

		var runErr error
		select {
		case err := <-serveErr:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case runErr = <-consumerDone:
			if runErr != nil {
				log.WithError(runErr).Error("consumer stopped")
			}
		case <-ctx.Done():
		}

		log.Info("shutting down")
		stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return runErr
	},
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port")
	serveCmd.Flags().Bool("embedded-consumer", true, "consume the batch queue in this process")
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("queue.embedded_consumer", serveCmd.Flags().Lookup("embedded-consumer"))
	RootCmd.AddCommand(serveCmd)
}
