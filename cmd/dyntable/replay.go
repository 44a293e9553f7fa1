package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var replayOpts struct {
	limit int
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Move dead-lettered batches back onto the batch queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Queue.Broker != "amqp" {
			return errors.New("replay requires queue.broker=amqp")
		}

		a := &app{cfg: cfg, log: log}
		defer a.Close()
		if err := a.openBroker(log.WithField("component", "queue")); err != nil {
			return err
		}

		n, err := a.deadLetters.ReplayDead(cmd.Context(), replayOpts.limit)
		fmt.Fprintf(cmd.OutOrStdout(), "replayed %d batches\n", n)
		return err
	},
}

func init() {
	replayCmd.Flags().IntVar(&replayOpts.limit, "limit", 0, "maximum number of batches to replay, 0 for all")
	RootCmd.AddCommand(replayCmd)
}
