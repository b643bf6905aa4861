package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/leadroute/core/queue"
)

var dlqWait time.Duration

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Drain and print dead-lettered messages",
	Long: "Consumes the dead-letter queue for --wait and prints each message with the\n" +
		"reason it was dead-lettered. Printed messages are acknowledged.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), dlqWait)
		defer cancel()
		out := make(chan *queue.Envelope, 16)
		err = svc.Gateway.Subscribe(ctx, queue.QueueDeadLetters, queue.HandlerFunc(
			func(_ context.Context, env *queue.Envelope) error {
				select {
				case out <- env.Clone():
				case <-ctx.Done():
				}
				return nil
			}))
		if err != nil {
			return err
		}
		n := 0
		for {
			select {
			case env := <-out:
				n++
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  attempts=%d  queue=%s  reason=%s\n",
					env.ID, env.Header(queue.HeaderOriginalKey), env.Attempts,
					env.Header(queue.HeaderQueue), env.Header(queue.HeaderDeathReason))
			case <-ctx.Done():
				fmt.Fprintf(cmd.OutOrStdout(), "%d dead letters\n", n)
				return nil
			}
		}
	},
}

func init() {
	dlqCmd.Flags().DurationVar(&dlqWait, "wait", 5*time.Second, "how long to consume the dead-letter queue")
	rootCmd.AddCommand(dlqCmd)
}
