package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pantry/internal/logger"
	"pantry/internal/validation"
	"pantry/pkg/models"
	"pantry/pkg/services"
)

// CommittedItem records what one item produced downstream.
type CommittedItem struct {
	ItemID  string          `json:"itemId"`
	Name    string          `json:"name"`
	Expense bool            `json:"expense"`
	Notice  services.Notice `json:"notice"`
}

// CommitResult is the combined outcome of a commit. Level is the most
// severe notice returned for any item.
type CommitResult struct {
	ReceiptID string               `json:"receiptId"`
	Level     services.NoticeLevel `json:"level"`
	Items     []CommittedItem      `json:"items"`
	Skipped   int                  `json:"skipped"`
	// Resumed counts items written by an earlier, interrupted commit.
	Resumed int `json:"resumed,omitempty"`
}

// Workflow connects the review gate to the downstream collaborators.
type Workflow struct {
	inventory services.InventoryStore
	ledger    services.BudgetLedger
	catalog   services.ProductCatalog
	now       func() time.Time
	log       zerolog.Logger
}

// NewWorkflow creates the workflow. The catalog may be nil when only
// commits are needed.
func NewWorkflow(inventory services.InventoryStore, ledger services.BudgetLedger, catalog services.ProductCatalog) *Workflow {
	return &Workflow{
		inventory: inventory,
		ledger:    ledger,
		catalog:   catalog,
		now:       time.Now,
		log:       logger.WithComponent("review"),
	}
}

// Associate looks up ean in the catalog and attaches the product to the item.
func (w *Workflow) Associate(ctx context.Context, r *Receipt, itemID, ean string) (models.ProductRef, error) {
	const op = "Associate"

	ean = strings.TrimSpace(ean)
	if !validation.IsValidEan(ean) {
		return models.ProductRef{}, fmt.Errorf("%s: %w: %q is not a 13-digit EAN", op, ErrInvalidEdit, ean)
	}
	if !r.Editable() {
		return models.ProductRef{}, fmt.Errorf("%s: %w", op, ErrReceiptNotEditable)
	}
	if w.catalog == nil {
		return models.ProductRef{}, fmt.Errorf("%s: no product catalog configured", op)
	}

	product, err := w.catalog.LookupByEAN(ctx, ean)
	if err != nil {
		return models.ProductRef{}, fmt.Errorf("%s: catalog lookup failed: %w", op, err)
	}
	if product == nil {
		return models.ProductRef{}, fmt.Errorf("%s: no catalog product with EAN %s", op, ean)
	}

	if err := r.AssociateProduct(itemID, *product, w.now()); err != nil {
		return models.ProductRef{}, fmt.Errorf("%s: %w", op, err)
	}
	w.log.Debug().Str("receipt_id", r.ID).Str("item_id", itemID).Str("ean", ean).Msg("Product associated")
	return *product, nil
}

// Commit materializes every validated item as an inventory entry and records
// an expense for each item that carries a purchase price. Unvalidated items
// are skipped. An inventory error stops the commit; items written so far are
// recorded on the receipt and skipped when the commit is retried. The receipt
// is marked committed once every validated item is written. Expense failures
// become warnings.
func (w *Workflow) Commit(ctx context.Context, r *Receipt) (*CommitResult, error) {
	const op = "Commit"
	log := logger.WithReceipt("review", r.ID)

	switch {
	case r.Committed():
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyCommitted)
	case r.Status != StatusValidated:
		return nil, fmt.Errorf("%s: %w (status %s)", op, ErrReceiptNotValidated, r.Status)
	}

	items := r.ValidatedItems()
	if len(items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNoValidatedItems)
	}

	purchasedAt := r.CreatedAt
	if r.PurchaseDate != nil {
		purchasedAt = *r.PurchaseDate
	}
	merchant := ""
	if r.MerchantName != nil {
		merchant = *r.MerchantName
	}

	result := &CommitResult{
		ReceiptID: r.ID,
		Level:     services.NoticeSuccess,
		Skipped:   len(r.Items) - len(items),
	}

	for _, item := range items {
		if r.ItemCommitted(item.ID) {
			result.Resumed++
			continue
		}

		entry := services.InventoryEntry{
			ReceiptID:   r.ID,
			ItemID:      item.ID,
			Name:        item.DetectedName,
			Quantity:    1,
			Category:    item.CategoryGuess,
			Merchant:    merchant,
			Product:     item.Product,
			PurchasedAt: purchasedAt,
		}
		if item.Quantity != nil {
			entry.Quantity = *item.Quantity
		}
		if item.Product != nil && item.Product.Name != "" {
			entry.Name = item.Product.Name
		}

		if err := w.inventory.AddEntry(ctx, entry); err != nil {
			log.Error().Err(err).Str("item_id", item.ID).Msg("Inventory write failed")
			return result, fmt.Errorf("%s: add inventory entry for %q: %w", op, item.DetectedName, err)
		}
		r.recordItemCommitted(item.ID, w.now())

		committed := CommittedItem{ItemID: item.ID, Name: entry.Name}
		price := item.PurchasePrice()
		if !price.Valid {
			committed.Notice = services.Notice{
				Level:   services.NoticeInfo,
				Message: fmt.Sprintf("%s: no price, no expense recorded", entry.Name),
			}
		} else {
			notice, err := w.ledger.RecordExpense(ctx, services.Expense{
				ReceiptID:   r.ID,
				ItemID:      item.ID,
				Description: entry.Name,
				Merchant:    merchant,
				Category:    item.CategoryGuess,
				Amount:      price.Decimal,
				Currency:    r.Currency,
				Date:        purchasedAt,
			})
			if err != nil {
				log.Warn().Err(err).Str("item_id", item.ID).Msg("Expense not recorded")
				notice = services.Notice{
					Level:   services.NoticeWarning,
					Message: fmt.Sprintf("%s: expense not recorded: %v", entry.Name, err),
				}
			} else {
				committed.Expense = true
			}
			if notice.Level == "" {
				notice.Level = services.NoticeSuccess
			}
			committed.Notice = notice
		}

		if committed.Notice.Level.Severity() > result.Level.Severity() {
			result.Level = committed.Notice.Level
		}
		result.Items = append(result.Items, committed)
	}

	r.markCommitted(w.now())

	log.Info().
		Int("committed", len(result.Items)).
		Int("skipped", result.Skipped).
		Int("resumed", result.Resumed).
		Str("level", string(result.Level)).
		Msg("Receipt committed to inventory")

	return result, nil
}
