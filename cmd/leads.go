package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/leadroute/core/dispatch"
)

var (
	direct       bool
	explain      bool
	reason       string
	cancelReason string
)

var distributeCmd = &cobra.Command{
	Use:   "distribute <lead-id>",
	Short: "Request a distribution round for a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		if direct {
			res, err := svc.Orchestrator.Distribute(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if explain {
				return printExplanations(cmd, res)
			}
			return printJSON(cmd, res)
		}
		id, err := svc.Commands.RequestDistribution(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
		return err
	},
}

func printExplanations(cmd *cobra.Command, res *dispatch.DistributionResult) error {
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "lead %s round %d: %d notified\n", res.LeadID, res.Round, res.Notified); err != nil {
		return err
	}
	for _, n := range res.Notifications {
		if _, err := fmt.Fprintf(out, "\n%s (%s)\n%s\n", n.ContractorID, n.Tier, n.Explanation); err != nil {
			return err
		}
	}
	return nil
}

var respondCmd = &cobra.Command{
	Use:   "respond <lead-id> <contractor-id> <accepted|declined>",
	Short: "Publish a contractor response",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		id, err := svc.Commands.Respond(cmd.Context(), args[0], args[1], args[2], reason)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", id)
		return err
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <lead-id>",
	Short: "Show a lead's distribution status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		st, err := svc.Commands.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <lead-id>",
	Short: "Cancel a pending or distributed lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openClient(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()
		lead, err := svc.Commands.Cancel(cmd.Context(), args[0], cancelReason)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "lead %s %s\n", lead.ID, lead.Status)
		return err
	},
}

func init() {
	distributeCmd.Flags().BoolVar(&direct, "direct", false, "run the round in this process instead of queueing it")
	distributeCmd.Flags().BoolVar(&explain, "explain", false, "with --direct, print each contractor's score breakdown")
	respondCmd.Flags().StringVar(&reason, "reason", "", "decline reason")
	cancelCmd.Flags().StringVar(&cancelReason, "reason", "cancelled by operator", "cancellation reason")
	rootCmd.AddCommand(distributeCmd, respondCmd, statusCmd, cancelCmd)
}
