package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	reconcileAll     bool
	reconcileWorkers int
	adjustReason     string
	adjustAdmin      string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [user-id]",
	Short: "Compare cached balances with a replay of the ledger",
	Long: `Replays a user's credit history with the clamp-at-zero rule and compares
the result with the cached balance. With --all, every user is checked and
only drifted balances are printed.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if reconcileAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runReconcile,
}

var balanceCmd = &cobra.Command{
	Use:   "balance <user-id>",
	Short: "Print a user's cached balance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid user id: %w", err)
		}
		balance, err := app.ledger.Balance(cmd.Context(), id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), balance)
		return nil
	},
}

var adjustCmd = &cobra.Command{
	Use:   "adjust <user-id> <amount>",
	Short: "Record a manual credit adjustment",
	Args:  cobra.ExactArgs(2),
	RunE:  runAdjust,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Credit policy commands",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective credit policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(app.policy.Get(cmd.Context()))
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "reconcile every user")
	reconcileCmd.Flags().IntVar(&reconcileWorkers, "workers", 4, "concurrent users with --all")

	adjustCmd.Flags().StringVar(&adjustReason, "reason", "", "reason shown to the user (required)")
	adjustCmd.Flags().StringVar(&adjustAdmin, "admin", "", "admin user id recorded on the entry (required)")
	_ = adjustCmd.MarkFlagRequired("reason")
	_ = adjustCmd.MarkFlagRequired("admin")

	policyCmd.AddCommand(policyShowCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if reconcileAll {
		drifted, err := app.ledger.ReconcileAll(cmd.Context(), reconcileWorkers)
		if err != nil {
			return err
		}
		for _, r := range drifted {
			fmt.Fprintf(out, "%s stored=%d replayed=%d sum=%d entries=%d\n", r.UserID, r.Stored, r.Replayed, r.Sum, r.Entries)
		}
		fmt.Fprintf(out, "%d drifted\n", len(drifted))
		if len(drifted) > 0 {
			return fmt.Errorf("%d balances drifted", len(drifted))
		}
		return nil
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	r, err := app.ledger.Reconcile(cmd.Context(), id)
	if err != nil {
		return err
	}
	status := "ok"
	if r.Drift {
		status = "DRIFT"
	}
	fmt.Fprintf(out, "%s %s stored=%d replayed=%d sum=%d entries=%d\n", status, r.UserID, r.Stored, r.Replayed, r.Sum, r.Entries)
	return nil
}

func runAdjust(cmd *cobra.Command, args []string) error {
	userID, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	amount, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	adminID, err := uuid.Parse(adjustAdmin)
	if err != nil {
		return fmt.Errorf("invalid admin id: %w", err)
	}

	txID, err := app.ledger.AdminAdjust(cmd.Context(), adminID, userID, amount, adjustReason)
	if err != nil {
		return err
	}
	balance, err := app.ledger.Balance(cmd.Context(), userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "recorded %s, balance now %d\n", txID, balance)
	return nil
}
