package sheets

import (
	"context"
	"fmt"
	"strings"

	"pantry/pkg/models"
)

// Catalog worksheet columns: A EAN, B Name, C Marke, D ID (optional).

// LookupByEAN returns the catalog product with the given EAN, or nil if none.
func (s *Service) LookupByEAN(ctx context.Context, ean string) (*models.ProductRef, error) {
	const op = "LookupByEAN"

	products, err := s.readCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, p := range products {
		if p.EAN == ean {
			return &p, nil
		}
	}
	return nil, nil
}

// Search returns catalog products whose name or brand contains query, case-insensitively.
func (s *Service) Search(ctx context.Context, query string) ([]models.ProductRef, error) {
	const op = "Search"

	products, err := s.readCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return matchProducts(products, query), nil
}

func (s *Service) readCatalog(ctx context.Context) ([]models.ProductRef, error) {
	rows, err := s.ReadRange(ctx, s.catalogSheet+"!A2:D")
	if err != nil {
		return nil, err
	}
	return parseCatalog(rows), nil
}

func parseCatalog(rows [][]interface{}) []models.ProductRef {
	var products []models.ProductRef
	for _, row := range rows {
		ean := strings.TrimSpace(cellString(row, 0))
		name := strings.TrimSpace(cellString(row, 1))
		if name == "" {
			continue
		}
		p := models.ProductRef{
			ID:    strings.TrimSpace(cellString(row, 3)),
			EAN:   ean,
			Name:  name,
			Brand: strings.TrimSpace(cellString(row, 2)),
		}
		if p.ID == "" {
			p.ID = ean
		}
		products = append(products, p)
	}
	return products
}

func matchProducts(products []models.ProductRef, query string) []models.ProductRef {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []models.ProductRef
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Brand), q) || p.EAN == q {
			out = append(out, p)
		}
	}
	return out
}
