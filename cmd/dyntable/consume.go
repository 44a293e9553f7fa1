package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dynamic-table/internal/metrics"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run a standalone batch consumer against the RabbitMQ queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Broker != "amqp" {
			return errors.New("consume requires queue.broker=amqp")
		}
		metrics.Init()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		log.WithField("queue", cfg.Queue.Name).Info("consumer started")
		return a.consumer.Run(ctx)
	},
}

func init() {
	RootCmd.AddCommand(consumeCmd)
}
