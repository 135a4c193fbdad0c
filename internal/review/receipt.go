// Package review holds the receipt aggregate and the human review gate
// between extraction and inventory.
//
// Status flow:
//
//	PROCESSING -> COMPLETED -> VALIDATED
//	PROCESSING -> FAILED
//
// Items can be edited, associated with catalog products and toggled as
// validated while the receipt is COMPLETED or VALIDATED. Once committed, a
// receipt is frozen. FAILED receipts are never edited; they are scanned again.
package review

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"pantry/internal/validation"
	"pantry/pkg/models"
)

// Status is the lifecycle state of a receipt.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusValidated  Status = "VALIDATED"
)

var (
	// ErrReceiptNotEditable indicates the receipt is not in COMPLETED or VALIDATED state, or was committed
	ErrReceiptNotEditable = errors.New("receipt cannot be edited in its current state")

	// ErrReceiptNotValidated indicates a commit was attempted before approval
	ErrReceiptNotValidated = errors.New("receipt must be VALIDATED before committing")

	// ErrNoValidatedItems indicates a commit with zero validated items
	ErrNoValidatedItems = errors.New("at least one item must be validated")

	// ErrItemNotFound indicates an unknown item id
	ErrItemNotFound = errors.New("receipt item not found")

	// ErrInvalidTransition indicates a status change the state machine does not allow
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyCommitted indicates the receipt's items are already in the inventory
	ErrAlreadyCommitted = errors.New("receipt already committed")

	// ErrInvalidEdit indicates an edit that would produce an invalid item
	ErrInvalidEdit = errors.New("invalid item edit")
)

// Receipt is the aggregate root owning the ordered review items.
type Receipt struct {
	ID            string              `json:"id"`
	Source        string              `json:"source"`
	DocumentType  models.DocumentType `json:"documentType"`
	Status        Status              `json:"status"`
	FailureReason string              `json:"failureReason,omitempty"`
	Provider      string              `json:"provider,omitempty"`

	MerchantName  *string             `json:"merchantName,omitempty"`
	PurchaseDate  *time.Time          `json:"purchaseDate,omitempty"`
	TotalAmount   decimal.NullDecimal `json:"totalAmount"`
	Currency      string              `json:"currency"`
	Confidence    float64             `json:"confidence"`
	InvoiceNumber *string             `json:"invoiceNumber,omitempty"`

	Items []models.ReceiptItem `json:"items"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CommittedAt *time.Time `json:"committedAt,omitempty"`

	// CommittedItemIDs lists items already written to the inventory. A
	// commit interrupted by an inventory error resumes after them.
	CommittedItemIDs []string `json:"committedItemIds,omitempty"`
}

// NewReceipt starts a receipt in PROCESSING.
func NewReceipt(id, source string, t models.DocumentType, now time.Time) *Receipt {
	return &Receipt{
		ID:           id,
		Source:       source,
		DocumentType: t,
		Status:       StatusProcessing,
		Currency:     models.DefaultCurrency,
		Items:        []models.ReceiptItem{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (r *Receipt) transition(to Status, now time.Time) error {
	allowed := false
	switch r.Status {
	case StatusProcessing:
		allowed = to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		allowed = to == StatusValidated
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Complete stores the extraction output and moves PROCESSING -> COMPLETED.
func (r *Receipt) Complete(provider string, header validation.Header, items []models.ReceiptItem, now time.Time) error {
	if err := r.transition(StatusCompleted, now); err != nil {
		return err
	}
	r.Provider = provider
	r.MerchantName = header.MerchantName
	r.PurchaseDate = header.PurchaseDate
	r.TotalAmount = header.TotalAmount
	r.Currency = header.Currency
	r.Confidence = header.Confidence
	r.InvoiceNumber = header.InvoiceNumber
	r.Items = append([]models.ReceiptItem{}, items...)
	return nil
}

// Fail moves PROCESSING -> FAILED, keeping reason for display.
func (r *Receipt) Fail(reason string, now time.Time) error {
	if err := r.transition(StatusFailed, now); err != nil {
		return err
	}
	r.FailureReason = reason
	return nil
}

// Approve is the reviewer sign-off, COMPLETED -> VALIDATED.
func (r *Receipt) Approve(now time.Time) error {
	if r.CommittedAt != nil {
		return ErrAlreadyCommitted
	}
	if r.Status == StatusCompleted && len(r.Items) == 0 {
		return fmt.Errorf("%w: receipt has no items", ErrInvalidTransition)
	}
	return r.transition(StatusValidated, now)
}

// Editable reports whether items may still change.
func (r *Receipt) Editable() bool {
	return r.CommittedAt == nil && (r.Status == StatusCompleted || r.Status == StatusValidated)
}

// Committed reports whether the receipt was committed to the inventory.
func (r *Receipt) Committed() bool {
	return r.CommittedAt != nil
}

// PartiallyCommitted reports whether an interrupted commit already wrote some items.
func (r *Receipt) PartiallyCommitted() bool {
	return r.CommittedAt == nil && len(r.CommittedItemIDs) > 0
}

// ItemCommitted reports whether the item is already in the inventory.
func (r *Receipt) ItemCommitted(id string) bool {
	for _, committed := range r.CommittedItemIDs {
		if committed == id {
			return true
		}
	}
	return false
}

// ReadyForInventory holds when the receipt is VALIDATED and every item is validated.
func (r *Receipt) ReadyForInventory() bool {
	if r.Status != StatusValidated {
		return false
	}
	for _, item := range r.Items {
		if !item.Validated {
			return false
		}
	}
	return true
}

// ValidatedItems returns copies of the validated items in receipt order.
func (r *Receipt) ValidatedItems() []models.ReceiptItem {
	var out []models.ReceiptItem
	for _, item := range r.Items {
		if item.Validated {
			out = append(out, item)
		}
	}
	return out
}

// Item returns a copy of the item with the given id.
func (r *Receipt) Item(id string) (models.ReceiptItem, error) {
	for _, item := range r.Items {
		if item.ID == id {
			return item, nil
		}
	}
	return models.ReceiptItem{}, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// mutate applies fn to one item of an editable receipt.
func (r *Receipt) mutate(id string, now time.Time, fn func(item *models.ReceiptItem) error) error {
	if !r.Editable() {
		return fmt.Errorf("%w: status %s", ErrReceiptNotEditable, r.Status)
	}
	if r.ItemCommitted(id) {
		return fmt.Errorf("%w: item %s is already in the inventory", ErrReceiptNotEditable, id)
	}
	for i := range r.Items {
		if r.Items[i].ID != id {
			continue
		}
		updated := r.Items[i]
		if err := fn(&updated); err != nil {
			return err
		}
		r.Items[i] = updated
		r.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// ItemEdit is a field correction. Nil fields are left unchanged.
type ItemEdit struct {
	Name       *string
	Quantity   *float64
	UnitPrice  *decimal.Decimal
	TotalPrice *decimal.Decimal
	Category   *string
	ClearPrice bool
}

// EditItem corrects fields of one item. The receipt status does not change.
func (r *Receipt) EditItem(id string, edit ItemEdit, now time.Time) error {
	return r.mutate(id, now, func(item *models.ReceiptItem) error {
		if edit.Name != nil {
			name := strings.TrimSpace(*edit.Name)
			if name == "" {
				return fmt.Errorf("%w: name must not be empty", ErrInvalidEdit)
			}
			item.DetectedName = name
		}
		if edit.Quantity != nil {
			if *edit.Quantity <= 0 {
				return fmt.Errorf("%w: quantity must be positive", ErrInvalidEdit)
			}
			q := *edit.Quantity
			item.Quantity = &q
		}
		if edit.ClearPrice {
			item.UnitPrice = decimal.NullDecimal{}
			item.TotalPrice = decimal.NullDecimal{}
		}
		if edit.UnitPrice != nil {
			if edit.UnitPrice.IsNegative() {
				return fmt.Errorf("%w: unit price must not be negative", ErrInvalidEdit)
			}
			item.UnitPrice = decimal.NewNullDecimal(*edit.UnitPrice)
		}
		if edit.TotalPrice != nil {
			if edit.TotalPrice.IsNegative() {
				return fmt.Errorf("%w: total price must not be negative", ErrInvalidEdit)
			}
			item.TotalPrice = decimal.NewNullDecimal(*edit.TotalPrice)
		}
		if edit.Category != nil {
			item.CategoryGuess = strings.TrimSpace(*edit.Category)
		}
		return nil
	})
}

// SetValidated toggles one item's validation flag. Product association is not required.
func (r *Receipt) SetValidated(id string, validated bool, now time.Time) error {
	return r.mutate(id, now, func(item *models.ReceiptItem) error {
		item.Validated = validated
		return nil
	})
}

// AssociateProduct attaches a catalog product to an item without touching its validation flag.
func (r *Receipt) AssociateProduct(id string, product models.ProductRef, now time.Time) error {
	return r.mutate(id, now, func(item *models.ReceiptItem) error {
		p := product
		item.Product = &p
		return nil
	})
}

func (r *Receipt) recordItemCommitted(id string, now time.Time) {
	r.CommittedItemIDs = append(r.CommittedItemIDs, id)
	r.UpdatedAt = now
}

func (r *Receipt) markCommitted(now time.Time) {
	r.CommittedAt = &now
	r.UpdatedAt = now
}
