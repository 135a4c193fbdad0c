package sheets

import (
	"context"
	"fmt"

	"pantry/pkg/services"
)

var inventoryHeaders = []string{
	"Datum", "Artikel", "Menge", "Kategorie", "Händler", "EAN", "Produkt", "Beleg", "Position", "Erfasst",
}

// AddEntry appends one committed item to the inventory worksheet.
func (s *Service) AddEntry(ctx context.Context, entry services.InventoryEntry) error {
	const op = "AddEntry"

	if err := s.appendRows(ctx, s.inventorySheet, inventoryHeaders, [][]interface{}{s.inventoryRow(entry)}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info().
		Str("receipt_id", entry.ReceiptID).
		Str("item", entry.Name).
		Float64("quantity", entry.Quantity).
		Msg("Inventory entry written")
	return nil
}

func (s *Service) inventoryRow(entry services.InventoryEntry) []interface{} {
	var ean, product string
	if entry.Product != nil {
		ean = entry.Product.EAN
		product = entry.Product.Name
		if entry.Product.Brand != "" {
			product = entry.Product.Brand + " " + product
		}
	}

	date := ""
	if !entry.PurchasedAt.IsZero() {
		date = entry.PurchasedAt.Format("2006-01-02")
	}

	return []interface{}{
		date,                                  // A: Datum
		entry.Name,                            // B: Artikel
		entry.Quantity,                        // C: Menge
		entry.Category,                        // D: Kategorie
		entry.Merchant,                        // E: Händler
		ean,                                   // F: EAN
		product,                               // G: Produkt
		entry.ReceiptID,                       // H: Beleg
		entry.ItemID,                          // I: Position
		s.now().Format("2006-01-02 15:04:05"), // J: Erfasst
	}
}
