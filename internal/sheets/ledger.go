package sheets

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pantry/pkg/models"
	"pantry/pkg/services"
)

var expenseHeaders = []string{
	"Datum", "Beschreibung", "Händler", "Kategorie", "Betrag", "Währung", "Beleg", "Position",
}

const (
	expenseDateColumn     = 0
	expenseAmountColumn   = 4
	expenseCurrencyColumn = 5
)

// RecordExpense appends an expense row. With a monthly budget configured the
// month's spend in the same currency is summed first, and crossing the
// budget yields a warning notice.
func (s *Service) RecordExpense(ctx context.Context, expense services.Expense) (services.Notice, error) {
	const op = "RecordExpense"

	expense.Currency = models.NormalizeCurrency(expense.Currency)

	var spent decimal.Decimal
	if s.monthlyBudget.Valid {
		if err := s.ensureSheetWithHeaders(ctx, s.expenseSheet, expenseHeaders); err != nil {
			return services.Notice{}, fmt.Errorf("%s: %w", op, err)
		}
		rows, err := s.ReadRange(ctx, s.expenseSheet+"!A2:"+columnLetter(len(expenseHeaders)))
		if err != nil {
			return services.Notice{}, fmt.Errorf("%s: %w", op, err)
		}
		spent = monthlySpend(rows, expense.Date.Format("2006-01"), expense.Currency)
	}

	if err := s.appendRows(ctx, s.expenseSheet, expenseHeaders, [][]interface{}{expenseRow(expense)}); err != nil {
		return services.Notice{}, fmt.Errorf("%s: %w", op, err)
	}

	notice := budgetNotice(expense, spent, s.monthlyBudget)

	s.log.Info().
		Str("receipt_id", expense.ReceiptID).
		Str("amount", expense.Amount.StringFixed(2)).
		Str("currency", expense.Currency).
		Str("level", string(notice.Level)).
		Msg("Expense recorded")
	return notice, nil
}

func expenseRow(expense services.Expense) []interface{} {
	return []interface{}{
		expense.Date.Format("2006-01-02"), // A: Datum
		expense.Description,               // B: Beschreibung
		expense.Merchant,                  // C: Händler
		expense.Category,                  // D: Kategorie
		expense.Amount.InexactFloat64(),   // E: Betrag
		expense.Currency,                  // F: Währung
		expense.ReceiptID,                 // G: Beleg
		expense.ItemID,                    // H: Position
	}
}

// monthlySpend sums the amounts of rows dated in month (YYYY-MM) with the given currency.
// Rows that cannot be read are ignored.
func monthlySpend(rows [][]interface{}, month, currency string) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		if !strings.HasPrefix(cellString(row, expenseDateColumn), month) {
			continue
		}
		if c := cellString(row, expenseCurrencyColumn); c != "" && models.NormalizeCurrency(c) != currency {
			continue
		}
		amount, err := cellDecimal(row, expenseAmountColumn)
		if err != nil {
			continue
		}
		total = total.Add(amount)
	}
	return total
}

func budgetNotice(expense services.Expense, spentBefore decimal.Decimal, budget decimal.NullDecimal) services.Notice {
	if !budget.Valid {
		return services.Notice{
			Level:   services.NoticeSuccess,
			Message: fmt.Sprintf("%s: %s %s recorded", expense.Description, expense.Amount.StringFixed(2), expense.Currency),
		}
	}

	spent := spentBefore.Add(expense.Amount)
	month := expense.Date.Format("2006-01")
	if spent.GreaterThan(budget.Decimal) {
		return services.Notice{
			Level: services.NoticeWarning,
			Message: fmt.Sprintf("%s: monthly budget exceeded, %s of %s %s spent in %s",
				expense.Description, spent.StringFixed(2), budget.Decimal.StringFixed(2), expense.Currency, month),
		}
	}
	return services.Notice{
		Level: services.NoticeSuccess,
		Message: fmt.Sprintf("%s: %s %s recorded, %s of %s spent in %s",
			expense.Description, expense.Amount.StringFixed(2), expense.Currency,
			spent.StringFixed(2), budget.Decimal.StringFixed(2), month),
	}
}

func cellDecimal(row []interface{}, i int) (decimal.Decimal, error) {
	if i >= len(row) {
		return decimal.Zero, fmt.Errorf("missing column %d", i)
	}
	switch v := row[i].(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return models.ParseAmount(v)
	default:
		return decimal.Zero, fmt.Errorf("unexpected cell type %T", v)
	}
}
