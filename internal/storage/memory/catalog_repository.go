package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// Catalog: in-memory read-модель каталога, заменяемая целиком при перезагрузке снимка.
type Catalog struct {
	mu       sync.RWMutex
	variants []domain.Variant
	bySKU    map[string]domain.Variant
}

// NewCatalog создаёт каталог из набора вариантов.
func NewCatalog(variants ...domain.Variant) *Catalog {
	c := &Catalog{}
	c.ReplaceVariants(variants)
	return c
}

// ReplaceVariants атомарно подменяет снимок каталога.
func (c *Catalog) ReplaceVariants(variants []domain.Variant) {
	sorted := append([]domain.Variant(nil), variants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SKU < sorted[j].SKU })

	bySKU := make(map[string]domain.Variant, len(sorted))
	for _, variant := range sorted {
		bySKU[variant.SKU] = variant
	}

	c.mu.Lock()
	c.variants = sorted
	c.bySKU = bySKU
	c.mu.Unlock()
}

// BySKU возвращает вариант или ErrVariantNotFound.
func (c *Catalog) BySKU(_ context.Context, sku string) (domain.Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	variant, ok := c.bySKU[sku]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// Variants возвращает текущий снимок, упорядоченный по SKU.
func (c *Catalog) Variants(_ context.Context) ([]domain.Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.variants, nil
}

var _ domain.CatalogReader = (*Catalog)(nil)
