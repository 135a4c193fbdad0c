package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantry/pkg/models"
	"pantry/pkg/services"
)

type fakeInventory struct {
	entries []services.InventoryEntry
	failOn  string
}

func (f *fakeInventory) AddEntry(_ context.Context, entry services.InventoryEntry) error {
	if entry.ItemID == f.failOn {
		return errors.New("sheet unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

type fakeLedger struct {
	expenses []services.Expense
	notice   services.Notice
	err      error
}

func (f *fakeLedger) RecordExpense(_ context.Context, e services.Expense) (services.Notice, error) {
	if f.err != nil {
		return services.Notice{}, f.err
	}
	f.expenses = append(f.expenses, e)
	return f.notice, nil
}

type fakeCatalog struct {
	products map[string]models.ProductRef
}

func (f *fakeCatalog) LookupByEAN(_ context.Context, ean string) (*models.ProductRef, error) {
	p, ok := f.products[ean]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakeCatalog) Search(context.Context, string) ([]models.ProductRef, error) {
	return nil, nil
}

func newTestWorkflow(inv *fakeInventory, ledger *fakeLedger, catalog services.ProductCatalog) *Workflow {
	w := NewWorkflow(inv, ledger, catalog)
	w.now = func() time.Time { return testNow.Add(time.Hour) }
	return w
}

func validatedReceipt(t *testing.T, itemIDs ...string) *Receipt {
	t.Helper()
	r := completedReceipt(t)
	for _, id := range itemIDs {
		require.NoError(t, r.SetValidated(id, true, testNow))
	}
	require.NoError(t, r.Approve(testNow))
	return r
}

func TestCommit_RequiresValidatedStatus(t *testing.T) {
	inv := &fakeInventory{}
	w := newTestWorkflow(inv, &fakeLedger{}, nil)

	r := completedReceipt(t)
	require.NoError(t, r.SetValidated("i1", true, testNow))

	_, err := w.Commit(context.Background(), r)
	assert.ErrorIs(t, err, ErrReceiptNotValidated)
	assert.Empty(t, inv.entries)
}

func TestCommit_RequiresValidatedItem(t *testing.T) {
	inv := &fakeInventory{}
	w := newTestWorkflow(inv, &fakeLedger{}, nil)
	r := validatedReceipt(t)

	_, err := w.Commit(context.Background(), r)
	assert.ErrorIs(t, err, ErrNoValidatedItems)
	assert.Empty(t, inv.entries)
	assert.False(t, r.Committed())
}

func TestCommit_PartialValidation(t *testing.T) {
	inv := &fakeInventory{}
	ledger := &fakeLedger{}
	w := newTestWorkflow(inv, ledger, nil)
	r := validatedReceipt(t, "i1")

	result, err := w.Commit(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, services.NoticeSuccess, result.Level)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, inv.entries, 1)
	assert.Equal(t, "Milch", inv.entries[0].Name)
	assert.Equal(t, "REWE", inv.entries[0].Merchant)
	assert.Equal(t, 1.0, inv.entries[0].Quantity)

	require.Len(t, ledger.expenses, 1)
	assert.Equal(t, "1.29", ledger.expenses[0].Amount.StringFixed(2))
	assert.Equal(t, "EUR", ledger.expenses[0].Currency)
	assert.True(t, result.Items[0].Expense)

	assert.True(t, r.Committed())
	assert.Equal(t, testNow.Add(time.Hour), *r.CommittedAt)
}

func TestCommit_ItemWithoutPriceIsInfo(t *testing.T) {
	inv := &fakeInventory{}
	ledger := &fakeLedger{}
	w := newTestWorkflow(inv, ledger, nil)
	r := validatedReceipt(t, "i1", "i2")

	result, err := w.Commit(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, services.NoticeInfo, result.Level)
	assert.Len(t, inv.entries, 2)
	assert.Len(t, ledger.expenses, 1)
	assert.False(t, result.Items[1].Expense)
	assert.Equal(t, services.NoticeInfo, result.Items[1].Notice.Level)
}

func TestCommit_LedgerWarningWins(t *testing.T) {
	ledger := &fakeLedger{notice: services.Notice{Level: services.NoticeWarning, Message: "monthly dairy budget exceeded"}}
	w := newTestWorkflow(&fakeInventory{}, ledger, nil)
	r := validatedReceipt(t, "i1", "i2")

	result, err := w.Commit(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, services.NoticeWarning, result.Level)
	assert.Equal(t, "monthly dairy budget exceeded", result.Items[0].Notice.Message)
}

func TestCommit_LedgerErrorBecomesWarning(t *testing.T) {
	inv := &fakeInventory{}
	w := newTestWorkflow(inv, &fakeLedger{err: errors.New("quota")}, nil)
	r := validatedReceipt(t, "i1")

	result, err := w.Commit(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, services.NoticeWarning, result.Level)
	assert.False(t, result.Items[0].Expense)
	assert.Len(t, inv.entries, 1)
	assert.True(t, r.Committed())
}

func TestCommit_InventoryErrorAborts(t *testing.T) {
	inv := &fakeInventory{failOn: "i2"}
	w := newTestWorkflow(inv, &fakeLedger{}, nil)
	r := validatedReceipt(t, "i1", "i2")

	result, err := w.Commit(context.Background(), r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheet unavailable")
	assert.False(t, r.Committed())
	assert.True(t, r.PartiallyCommitted())
	assert.Equal(t, []string{"i1"}, r.CommittedItemIDs)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "i1", result.Items[0].ItemID)
}

func TestCommit_RetryAfterInventoryErrorWritesEachItemOnce(t *testing.T) {
	inv := &fakeInventory{failOn: "i2"}
	ledger := &fakeLedger{}
	w := newTestWorkflow(inv, ledger, nil)
	r := validatedReceipt(t, "i1", "i2")

	_, err := w.Commit(context.Background(), r)
	require.Error(t, err)
	require.Len(t, inv.entries, 1)

	inv.failOn = ""
	result, err := w.Commit(context.Background(), r)
	require.NoError(t, err)

	require.Len(t, inv.entries, 2)
	assert.Equal(t, "i1", inv.entries[0].ItemID)
	assert.Equal(t, "i2", inv.entries[1].ItemID)
	assert.Len(t, ledger.expenses, 1)

	assert.Equal(t, 1, result.Resumed)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "i2", result.Items[0].ItemID)
	assert.True(t, r.Committed())
	assert.False(t, r.PartiallyCommitted())
}

func TestCommit_WrittenItemIsFrozenAfterInterruptedCommit(t *testing.T) {
	w := newTestWorkflow(&fakeInventory{failOn: "i2"}, &fakeLedger{}, nil)
	r := validatedReceipt(t, "i1", "i2")

	_, err := w.Commit(context.Background(), r)
	require.Error(t, err)

	assert.ErrorIs(t, r.SetValidated("i1", false, testNow), ErrReceiptNotEditable)
	name := "Brötchen"
	assert.NoError(t, r.EditItem("i2", ItemEdit{Name: &name}, testNow))
}

func TestCommit_CommittedReceiptIsFrozen(t *testing.T) {
	inv := &fakeInventory{}
	w := newTestWorkflow(inv, &fakeLedger{}, nil)
	r := validatedReceipt(t, "i1")

	_, err := w.Commit(context.Background(), r)
	require.NoError(t, err)

	_, err = w.Commit(context.Background(), r)
	assert.ErrorIs(t, err, ErrAlreadyCommitted)
	assert.Len(t, inv.entries, 1)

	assert.False(t, r.Editable())
	assert.ErrorIs(t, r.SetValidated("i2", true, testNow), ErrReceiptNotEditable)
}

func TestCommit_UsesAssociatedProductName(t *testing.T) {
	inv := &fakeInventory{}
	catalog := &fakeCatalog{products: map[string]models.ProductRef{
		"4006381333931": {ID: "p1", EAN: "4006381333931", Name: "Vollmilch 3,5%"},
	}}
	w := newTestWorkflow(inv, &fakeLedger{}, catalog)
	r := completedReceipt(t)

	product, err := w.Associate(context.Background(), r, "i1", " 4006381333931 ")
	require.NoError(t, err)
	assert.Equal(t, "p1", product.ID)

	require.NoError(t, r.SetValidated("i1", true, testNow))
	require.NoError(t, r.Approve(testNow))

	_, err = w.Commit(context.Background(), r)
	require.NoError(t, err)
	require.Len(t, inv.entries, 1)
	assert.Equal(t, "Vollmilch 3,5%", inv.entries[0].Name)
	require.NotNil(t, inv.entries[0].Product)
	assert.Equal(t, "4006381333931", inv.entries[0].Product.EAN)
}

func TestAssociate_Failures(t *testing.T) {
	catalog := &fakeCatalog{products: map[string]models.ProductRef{}}
	w := newTestWorkflow(&fakeInventory{}, &fakeLedger{}, catalog)
	r := completedReceipt(t)

	_, err := w.Associate(context.Background(), r, "i1", "12345")
	assert.ErrorIs(t, err, ErrInvalidEdit)

	_, err = w.Associate(context.Background(), r, "i1", "4006381333931")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no catalog product")

	failed := NewReceipt("r2", "x.jpg", models.DocumentTypeReceiptImage, testNow)
	require.NoError(t, failed.Fail("boom", testNow))
	_, err = w.Associate(context.Background(), failed, "i1", "4006381333931")
	assert.ErrorIs(t, err, ErrReceiptNotEditable)
}
