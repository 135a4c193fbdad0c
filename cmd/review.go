package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pantry/internal/category"
	"pantry/internal/config"
	"pantry/internal/logger"
	"pantry/internal/review"
	"pantry/internal/store"
	"pantry/pkg/models"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and correct scanned receipts before they reach the inventory",
	Long: `Review the receipts produced by "pantry scan".

Items of a COMPLETED or VALIDATED receipt can be corrected, linked to a
catalog product and marked as validated. Items are addressed by their
position as printed by "review show" or by their id.

Once the items are checked, approve the receipt and commit it:
  pantry review approve <receipt-id>
  pantry commit <receipt-id>`,
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored receipts, newest first",
	Args:  cobra.NoArgs,
	RunE:  runReviewList,
}

var reviewShowCmd = &cobra.Command{
	Use:   "show [receipt-id]",
	Short: "Show a receipt with its items and EAN suggestions",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewShow,
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit [receipt-id] [item]",
	Short: "Correct the name, quantity, prices or category of an item",
	Example: `  pantry review edit 3f2a... 2 --name "Vollmilch 3,5%" --quantity 2
  pantry review edit 3f2a... 4 --total-price 2,49 --category dairy
  pantry review edit 3f2a... 5 --clear-price`,
	Args: cobra.ExactArgs(2),
	RunE: runReviewEdit,
}

var reviewValidateCmd = &cobra.Command{
	Use:   "validate [receipt-id] [item...]",
	Short: "Mark items as validated",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReviewSetValidated(cmd, args, true)
	},
}

var reviewUnvalidateCmd = &cobra.Command{
	Use:   "unvalidate [receipt-id] [item...]",
	Short: "Remove the validated mark from items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReviewSetValidated(cmd, args, false)
	},
}

var reviewAssociateCmd = &cobra.Command{
	Use:   "associate [receipt-id] [item] [ean]",
	Short: "Link an item to a catalog product by EAN",
	Args:  cobra.ExactArgs(3),
	RunE:  runReviewAssociate,
}

var reviewSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the product catalog by name, brand or EAN",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runReviewSearch,
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve [receipt-id]",
	Short: "Approve a reviewed receipt for commit",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewApprove,
}

var reviewDeleteCmd = &cobra.Command{
	Use:   "delete [receipt-id]",
	Short: "Delete a receipt from the review queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewDelete,
}

var reviewPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete FAILED receipts older than a cutoff",
	Args:  cobra.NoArgs,
	RunE:  runReviewPurge,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewEditCmd, reviewValidateCmd, reviewUnvalidateCmd,
		reviewAssociateCmd, reviewSearchCmd, reviewApproveCmd, reviewDeleteCmd, reviewPurgeCmd)

	reviewCmd.PersistentFlags().Int("timeout", 60, "Timeout in seconds")

	reviewListCmd.Flags().String("status", "", "Only receipts with this status (PROCESSING, COMPLETED, FAILED, VALIDATED)")
	reviewListCmd.Flags().Int("limit", 50, "Maximum number of receipts")
	reviewListCmd.Flags().Bool("json", false, "Output as JSON")

	reviewShowCmd.Flags().Bool("json", false, "Output as JSON")

	reviewEditCmd.Flags().String("name", "", "Corrected product name")
	reviewEditCmd.Flags().Float64("quantity", 0, "Corrected quantity")
	reviewEditCmd.Flags().String("unit-price", "", "Corrected unit price")
	reviewEditCmd.Flags().String("total-price", "", "Corrected total price")
	reviewEditCmd.Flags().String("category", "", "Category: "+categoryNames())
	reviewEditCmd.Flags().Bool("clear-price", false, "Remove both prices so no expense is recorded")

	reviewValidateCmd.Flags().Bool("all", false, "Apply to every item")
	reviewUnvalidateCmd.Flags().Bool("all", false, "Apply to every item")

	reviewPurgeCmd.Flags().Duration("older-than", 30*24*time.Hour, "Minimum age of deleted FAILED receipts")
}

// withReceiptStore opens the store for the duration of fn.
func withReceiptStore(cmd *cobra.Command, component string, fn func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error) error {
	log := logger.WithComponent(component)
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore(st, log)

	return fn(ctx, cfg, st, log)
}

// updateReceipt loads a receipt, applies fn and saves the result.
func updateReceipt(ctx context.Context, st *store.SQLiteStore, id string, log zerolog.Logger, fn func(r *review.Receipt) error) (*review.Receipt, error) {
	r, err := st.Get(ctx, id)
	if err != nil {
		return nil, handleReviewError(err, id, log)
	}
	if err := fn(r); err != nil {
		return nil, handleReviewError(err, id, log)
	}
	if err := st.Save(ctx, r); err != nil {
		log.Error().Err(err).Str("receipt_id", id).Msg("Failed to save receipt")
		return nil, fmt.Errorf("failed to save receipt: %w", err)
	}
	return r, nil
}

func runReviewList(cmd *cobra.Command, args []string) error {
	statusFlag, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	filter := store.ReceiptFilter{Status: review.Status(strings.ToUpper(statusFlag)), Limit: limit}
	switch filter.Status {
	case "", review.StatusProcessing, review.StatusCompleted, review.StatusFailed, review.StatusValidated:
	default:
		return fmt.Errorf("invalid status: %s (must be PROCESSING, COMPLETED, FAILED or VALIDATED)", statusFlag)
	}

	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		receipts, err := st.List(ctx, filter)
		if err != nil {
			log.Error().Err(err).Msg("Failed to list receipts")
			return fmt.Errorf("failed to list receipts: %w", err)
		}

		if jsonOutput {
			out, err := marshalJSON(receipts)
			if err != nil {
				return err
			}
			return writeOutput(out, "", log)
		}

		if len(receipts) == 0 {
			fmt.Println("No receipts found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tDATE\tMERCHANT\tITEMS\tVALIDATED\tSOURCE")
		for _, r := range receipts {
			status := string(r.Status)
			if r.Committed() {
				status += " (committed)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, status, receiptDate(&r), merchantName(&r), len(r.Items), len(r.ValidatedItems()), r.Source)
		}
		return w.Flush()
	})
}

func runReviewShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		r, err := st.Get(ctx, args[0])
		if err != nil {
			return handleReviewError(err, args[0], log)
		}
		if jsonOutput {
			out, err := marshalJSON(r)
			if err != nil {
				return err
			}
			return writeOutput(out, "", log)
		}
		printReceipt(r)
		return nil
	})
}

func runReviewEdit(cmd *cobra.Command, args []string) error {
	var edit review.ItemEdit
	flags := cmd.Flags()

	if flags.Changed("name") {
		name, _ := flags.GetString("name")
		edit.Name = &name
	}
	if flags.Changed("quantity") {
		q, _ := flags.GetFloat64("quantity")
		edit.Quantity = &q
	}
	if flags.Changed("unit-price") {
		s, _ := flags.GetString("unit-price")
		price, err := models.ParseAmount(s)
		if err != nil {
			return fmt.Errorf("invalid --unit-price: %w", err)
		}
		edit.UnitPrice = &price
	}
	if flags.Changed("total-price") {
		s, _ := flags.GetString("total-price")
		price, err := models.ParseAmount(s)
		if err != nil {
			return fmt.Errorf("invalid --total-price: %w", err)
		}
		edit.TotalPrice = &price
	}
	if flags.Changed("category") {
		s, _ := flags.GetString("category")
		c := string(category.Parse(s))
		edit.Category = &c
	}
	edit.ClearPrice, _ = flags.GetBool("clear-price")

	if edit == (review.ItemEdit{}) {
		return fmt.Errorf("nothing to change. Use --name, --quantity, --unit-price, --total-price, --category or --clear-price")
	}

	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		var itemID string
		r, err := updateReceipt(ctx, st, args[0], log, func(r *review.Receipt) error {
			id, err := resolveItem(r, args[1])
			if err != nil {
				return err
			}
			itemID = id
			return r.EditItem(id, edit, time.Now())
		})
		if err != nil {
			return err
		}
		item, _ := r.Item(itemID)

		log.Info().Str("receipt_id", r.ID).Str("item_id", item.ID).Msg("Item edited")
		fmt.Printf("Updated item %s: %s\n", args[1], formatItem(item))
		return nil
	})
}

func runReviewSetValidated(cmd *cobra.Command, args []string, validated bool) error {
	all, _ := cmd.Flags().GetBool("all")
	refs := args[1:]
	if all == (len(refs) > 0) {
		return fmt.Errorf("name the items to change or use --all")
	}

	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		changed := 0
		r, err := updateReceipt(ctx, st, args[0], log, func(r *review.Receipt) error {
			var ids []string
			if all {
				for _, item := range r.Items {
					ids = append(ids, item.ID)
				}
			}
			for _, ref := range refs {
				id, err := resolveItem(r, ref)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			for _, id := range ids {
				if err := r.SetValidated(id, validated, time.Now()); err != nil {
					return err
				}
				changed++
			}
			return nil
		})
		if err != nil {
			return err
		}

		log.Info().
			Str("receipt_id", r.ID).
			Bool("validated", validated).
			Int("items", changed).
			Msg("Validation updated")
		fmt.Printf("%d of %d items validated\n", len(r.ValidatedItems()), len(r.Items))
		return nil
	})
}

func runReviewAssociate(cmd *cobra.Command, args []string) error {
	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		workflow, err := createWorkflow(ctx, cfg, log)
		if err != nil {
			return err
		}

		var product models.ProductRef
		_, err = updateReceipt(ctx, st, args[0], log, func(r *review.Receipt) error {
			itemID, err := resolveItem(r, args[1])
			if err != nil {
				return err
			}
			product, err = workflow.Associate(ctx, r, itemID, args[2])
			return err
		})
		if err != nil {
			return err
		}

		fmt.Printf("Linked item %s to %s", args[1], product.Name)
		if product.Brand != "" {
			fmt.Printf(" (%s)", product.Brand)
		}
		fmt.Println()
		return nil
	})
}

func runReviewSearch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("review")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	catalog, err := createSheetsService(ctx, cfg, log)
	if err != nil {
		return err
	}

	products, err := catalog.Search(ctx, strings.Join(args, " "))
	if err != nil {
		log.Error().Err(err).Msg("Catalog search failed")
		return fmt.Errorf("catalog search failed: %w", err)
	}
	if len(products) == 0 {
		fmt.Println("No matching products.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EAN\tNAME\tBRAND")
	for _, p := range products {
		fmt.Fprintf(w, "%s\t%s\t%s\n", p.EAN, p.Name, p.Brand)
	}
	return w.Flush()
}

func runReviewApprove(cmd *cobra.Command, args []string) error {
	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		r, err := updateReceipt(ctx, st, args[0], log, func(r *review.Receipt) error {
			return r.Approve(time.Now())
		})
		if err != nil {
			return err
		}

		validated := len(r.ValidatedItems())
		log.Info().Str("receipt_id", r.ID).Int("validated_items", validated).Msg("Receipt approved")
		fmt.Printf("Receipt %s is %s with %d of %d items validated\n", r.ID, r.Status, validated, len(r.Items))
		if validated == 0 {
			fmt.Println("Validate at least one item before committing.")
		} else {
			fmt.Printf("Next: pantry commit %s\n", r.ID)
		}
		return nil
	})
}

func runReviewDelete(cmd *cobra.Command, args []string) error {
	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		if err := st.Delete(ctx, args[0]); err != nil {
			return handleReviewError(err, args[0], log)
		}
		log.Info().Str("receipt_id", args[0]).Msg("Receipt deleted")
		fmt.Printf("Deleted receipt %s\n", args[0])
		return nil
	})
}

func runReviewPurge(cmd *cobra.Command, args []string) error {
	olderThan, _ := cmd.Flags().GetDuration("older-than")

	return withReceiptStore(cmd, "review", func(ctx context.Context, cfg *config.Config, st *store.SQLiteStore, log zerolog.Logger) error {
		n, err := st.DeleteFailedBefore(ctx, time.Now().Add(-olderThan))
		if err != nil {
			log.Error().Err(err).Msg("Failed to purge receipts")
			return fmt.Errorf("failed to purge receipts: %w", err)
		}
		fmt.Printf("Deleted %d failed receipts\n", n)
		return nil
	})
}

// resolveItem accepts a 1-based position or an item id.
func resolveItem(r *review.Receipt, ref string) (string, error) {
	if pos, err := strconv.Atoi(ref); err == nil {
		if pos < 1 || pos > len(r.Items) {
			return "", fmt.Errorf("%w: position %d (receipt has %d items)", review.ErrItemNotFound, pos, len(r.Items))
		}
		return r.Items[pos-1].ID, nil
	}
	item, err := r.Item(ref)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

// handleReviewError provides user-friendly messages for review failures
func handleReviewError(err error, id string, log zerolog.Logger) error {
	log.Error().Err(err).Str("receipt_id", id).Msg("Review operation failed")

	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("receipt %s not found. Use 'pantry review list' to see stored receipts", id)
	case errors.Is(err, review.ErrAlreadyCommitted):
		return fmt.Errorf("receipt %s was already committed and can no longer change", id)
	case errors.Is(err, review.ErrReceiptNotEditable):
		return fmt.Errorf("receipt %s cannot be changed in its current state. FAILED receipts must be scanned again", id)
	case errors.Is(err, review.ErrItemNotFound):
		return fmt.Errorf("%v. Use 'pantry review show %s' to see the items", err, id)
	case errors.Is(err, review.ErrInvalidEdit), errors.Is(err, review.ErrInvalidTransition):
		return err
	default:
		return fmt.Errorf("review failed: %w", err)
	}
}

func printReceipt(r *review.Receipt) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Receipt %s\n", r.ID)
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Status: %s\n", r.Status)
	if r.CommittedAt != nil {
		fmt.Printf("Committed: %s\n", r.CommittedAt.Format(time.RFC3339))
	}
	fmt.Printf("Source: %s (%s)\n", r.Source, r.DocumentType)
	if r.Status == review.StatusFailed {
		fmt.Printf("Reason: %s\n", r.FailureReason)
		return
	}
	fmt.Printf("Provider: %s\n", r.Provider)
	fmt.Printf("Merchant: %s\n", merchantName(r))
	fmt.Printf("Date: %s\n", receiptDate(r))
	if r.TotalAmount.Valid {
		fmt.Printf("Total: %s %s\n", r.TotalAmount.Decimal.StringFixed(2), r.Currency)
	}
	if r.InvoiceNumber != nil {
		fmt.Printf("Invoice number: %s\n", *r.InvoiceNumber)
	}
	fmt.Printf("Confidence: %.0f%%\n", r.Confidence*100)
	fmt.Println()
	printReceiptItems(r)
}

func printReceiptItems(r *review.Receipt) {
	if len(r.Items) == 0 {
		fmt.Println("No items.")
		return
	}
	for i, item := range r.Items {
		mark := " "
		if item.Validated {
			mark = "x"
		}
		fmt.Printf("[%s] %2d. %s\n", mark, i+1, formatItem(item))
		if item.Product != nil {
			fmt.Printf("         product: %s %s (%s)\n", item.Product.EAN, item.Product.Name, item.Product.Brand)
			continue
		}
		for _, s := range item.SuggestedEans {
			fmt.Printf("         suggestion: %s %s %s (%.0f%%)\n", s.EAN, s.Brand, s.ProductName, s.Confidence*100)
		}
	}
}

func formatItem(item models.ReceiptItem) string {
	var b strings.Builder
	b.WriteString(item.DetectedName)
	if item.Quantity != nil {
		fmt.Fprintf(&b, " x%s", strconv.FormatFloat(*item.Quantity, 'f', -1, 64))
	}
	price := item.PurchasePrice()
	fmt.Fprintf(&b, "  %s", formatPrice(price.Decimal.StringFixed(2), price.Valid))
	if item.CategoryGuess != "" {
		fmt.Fprintf(&b, "  [%s]", item.CategoryGuess)
	}
	fmt.Fprintf(&b, "  (%.0f%%)", item.Confidence*100)
	return b.String()
}

func merchantName(r *review.Receipt) string {
	if r.MerchantName == nil {
		return "-"
	}
	return *r.MerchantName
}

func receiptDate(r *review.Receipt) string {
	if r.PurchaseDate == nil {
		return "-"
	}
	return r.PurchaseDate.Format("2006-01-02")
}

func categoryNames() string {
	names := make([]string, len(category.All))
	for i, c := range category.All {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
