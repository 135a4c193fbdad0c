package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pantry/internal/config"
	"pantry/internal/review"
	"pantry/internal/store"
	"pantry/pkg/services"
)

var commitCmd = &cobra.Command{
	Use:   "commit [receipt-id]",
	Short: "Add the validated items of an approved receipt to the inventory",
	Long: `Commit an approved (VALIDATED) receipt.

Every validated item is appended to the inventory worksheet. Items with a
price are also recorded in the expense worksheet; when MONTHLY_BUDGET is set
and the month's spending goes over it, the commit reports a warning.
Unvalidated items are skipped. A committed receipt can no longer change.

Required environment variables:
  GOOGLE_SHEET_URL - Spreadsheet holding the inventory, expense and product worksheets
  GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS

Optional:
  INVENTORY_WORKSHEET (default Inventory)
  EXPENSE_WORKSHEET   (default Expenses)
  MONTHLY_BUDGET      - Budget per month in the receipt currency`,
	Example: `  pantry review approve 3f2a...
  pantry commit 3f2a...`,
	Args: cobra.ExactArgs(1),
	RunE: runCommit,
}

func init() {
	rootCmd.AddCommand(commitCmd)

	commitCmd.Flags().Bool("json", false, "Output as JSON")
	commitCmd.Flags().Int("timeout", 120, "Timeout in seconds")
}

func runCommit(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	id := args[0]

	return withReceiptStore(cmd, "commit", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		r, err := st.Get(ctx, id)
		if err != nil {
			return handleReviewError(err, id, log)
		}

		workflow, err := createWorkflow(ctx, cfg, log)
		if err != nil {
			return err
		}

		result, err := workflow.Commit(ctx, r)
		if err != nil {
			if r.PartiallyCommitted() {
				if saveErr := st.Save(ctx, r); saveErr != nil {
					log.Error().Err(saveErr).Str("receipt_id", id).Msg("Failed to record partial commit")
					return fmt.Errorf("commit stopped and its progress could not be saved; remove the rows of %s from the inventory sheet before retrying: %w", id, err)
				}
			}
			return handleCommitError(err, r, result, log)
		}

		if err := st.Save(ctx, r); err != nil {
			log.Error().Err(err).Str("receipt_id", id).Msg("Failed to save committed receipt")
			return fmt.Errorf("items were committed but the receipt could not be marked; do not commit %s again: %w", id, err)
		}

		if jsonOutput {
			out, err := marshalJSON(result)
			if err != nil {
				return err
			}
			return writeOutput(out, "", log)
		}
		printCommitResult(result)
		return nil
	})
}

// handleCommitError provides user-friendly messages for commit failures
func handleCommitError(err error, r *review.Receipt, partial *review.CommitResult, log zerolog.Logger) error {
	switch {
	case errors.Is(err, review.ErrAlreadyCommitted):
		return fmt.Errorf("receipt %s was already committed on %s", r.ID, r.CommittedAt.Format("2006-01-02 15:04"))
	case errors.Is(err, review.ErrReceiptNotValidated):
		return fmt.Errorf("receipt %s is %s. Approve it first with 'pantry review approve %s'", r.ID, r.Status, r.ID)
	case errors.Is(err, review.ErrNoValidatedItems):
		return fmt.Errorf("receipt %s has no validated items. Use 'pantry review validate %s --all'", r.ID, r.ID)
	}

	log.Error().Err(err).Str("receipt_id", r.ID).Msg("Commit failed")
	if partial != nil && len(partial.Items) > 0 {
		names := make([]string, len(partial.Items))
		for i, item := range partial.Items {
			names[i] = item.Name
		}
		return fmt.Errorf("commit stopped after %d items (%s); run 'pantry commit %s' again to add the rest: %w",
			len(partial.Items), strings.Join(names, ", "), r.ID, err)
	}
	return fmt.Errorf("commit failed: %w", err)
}

func printCommitResult(result *review.CommitResult) {
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Committed receipt %s\n", result.ReceiptID)
	fmt.Println(strings.Repeat("=", 50))
	for _, item := range result.Items {
		marker := "+"
		switch item.Notice.Level {
		case services.NoticeWarning:
			marker = "!"
		case services.NoticeInfo:
			marker = "i"
		}
		fmt.Printf("%s %s", marker, item.Name)
		if item.Notice.Message != "" {
			fmt.Printf(" (%s)", item.Notice.Message)
		}
		fmt.Println()
	}
	if result.Resumed > 0 {
		fmt.Printf("Already added by an earlier commit: %d\n", result.Resumed)
	}
	if result.Skipped > 0 {
		fmt.Printf("Skipped unvalidated items: %d\n", result.Skipped)
	}
	fmt.Printf("Result: %s\n", result.Level)
}
