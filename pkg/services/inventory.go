package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"pantry/pkg/models"
)

// NoticeLevel classifies the outcome of a commit for the caller to surface.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
)

// Severity orders notice levels so results can be combined.
func (l NoticeLevel) Severity() int {
	switch l {
	case NoticeWarning:
		return 2
	case NoticeInfo:
		return 1
	default:
		return 0
	}
}

// Notice is a collaborator's classification of one committed item.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// InventoryEntry is what the inventory store receives for one committed receipt item.
type InventoryEntry struct {
	ReceiptID   string             `json:"receipt_id"`
	ItemID      string             `json:"item_id"`
	Name        string             `json:"name"`
	Quantity    float64            `json:"quantity"`
	Category    string             `json:"category"`
	Merchant    string             `json:"merchant,omitempty"`
	Product     *models.ProductRef `json:"product,omitempty"`
	PurchasedAt time.Time          `json:"purchased_at"`
}

// Expense is a budget ledger record for a price-bearing committed item.
type Expense struct {
	ReceiptID   string          `json:"receipt_id"`
	ItemID      string          `json:"item_id"`
	Description string          `json:"description"`
	Merchant    string          `json:"merchant,omitempty"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        time.Time       `json:"date"`
}

// InventoryStore materializes validated receipt items as inventory entries.
type InventoryStore interface {
	AddEntry(ctx context.Context, entry InventoryEntry) error
}

// BudgetLedger records expenses and classifies each one, for example
// returning a warning when a budget threshold is crossed.
type BudgetLedger interface {
	RecordExpense(ctx context.Context, expense Expense) (Notice, error)
}

// ProductCatalog supplies candidate products for manual association.
type ProductCatalog interface {
	LookupByEAN(ctx context.Context, ean string) (*models.ProductRef, error)
	Search(ctx context.Context, query string) ([]models.ProductRef, error)
}
