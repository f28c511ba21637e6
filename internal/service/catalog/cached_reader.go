package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const defaultCacheTTL = 30 * time.Second

// CachedReader держит снимок каталога в памяти и обновляет его не чаще ttl.
// Параллельные промахи кеша схлопываются в одну загрузку.
type CachedReader struct {
	source domain.CatalogReader
	ttl    time.Duration
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	variants []domain.Variant
	bySKU    map[string]domain.Variant
	loadedAt time.Time
}

// NewCachedReader оборачивает источник каталога кешем.
func NewCachedReader(source domain.CatalogReader, ttl time.Duration) *CachedReader {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedReader{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Variants возвращает кешированный снимок, при необходимости перезагружая его.
func (c *CachedReader) Variants(ctx context.Context) ([]domain.Variant, error) {
	if variants, ok := c.fresh(); ok {
		return variants, nil
	}

	result, err, _ := c.group.Do("variants", func() (any, error) {
		variants, err := c.source.Variants(ctx)
		if err != nil {
			return nil, err
		}
		c.store(variants)
		return variants, nil
	})
	if err != nil {
		// Устаревший снимок лучше, чем недоступный каталог.
		if stale, ok := c.stale(); ok {
			return stale, nil
		}
		return nil, err
	}
	return result.([]domain.Variant), nil
}

// BySKU ищет вариант в снимке.
func (c *CachedReader) BySKU(ctx context.Context, sku string) (domain.Variant, error) {
	if _, err := c.Variants(ctx); err != nil {
		return domain.Variant{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	variant, ok := c.bySKU[sku]
	if !ok {
		return domain.Variant{}, domain.ErrVariantNotFound
	}
	return variant, nil
}

// Invalidate сбрасывает кеш; следующий вызов перечитает источник.
func (c *CachedReader) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *CachedReader) fresh() ([]domain.Variant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loadedAt.IsZero() || c.now().Sub(c.loadedAt) >= c.ttl {
		return nil, false
	}
	return c.variants, true
}

func (c *CachedReader) stale() ([]domain.Variant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.variants, c.variants != nil
}

func (c *CachedReader) store(variants []domain.Variant) {
	bySKU := make(map[string]domain.Variant, len(variants))
	for _, variant := range variants {
		bySKU[variant.SKU] = variant
	}

	c.mu.Lock()
	c.variants = variants
	c.bySKU = bySKU
	c.loadedAt = c.now()
	c.mu.Unlock()
}

var _ domain.CatalogReader = (*CachedReader)(nil)
