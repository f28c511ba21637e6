package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// CatalogRepository: read-модель каталога в таблице variants.
type CatalogRepository struct {
	db *sql.DB
}

// NewCatalogRepository создаёт PostgreSQL-реализацию CatalogReader.
func NewCatalogRepository(store *Store) *CatalogRepository {
	return &CatalogRepository{db: store.DB()}
}

// BySKU возвращает активный вариант или ErrVariantNotFound.
func (r *CatalogRepository) BySKU(ctx context.Context, sku string) (domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	variant, err := scanVariant(r.db.QueryRowContext(ctx, `
		SELECT sku, product_id, product_name, name, attributes, tags, price
		FROM variants
		WHERE sku = $1 AND active
	`, sku))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Variant{}, fmt.Errorf("%w: %s", domain.ErrVariantNotFound, sku)
	}
	if err != nil {
		return domain.Variant{}, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
	}
	return variant, nil
}

// Variants возвращает все активные варианты, упорядоченные по SKU.
func (r *CatalogRepository) Variants(ctx context.Context) ([]domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT sku, product_id, product_name, name, attributes, tags, price
		FROM variants
		WHERE active
		ORDER BY sku
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list variants: %w", domain.ErrCatalogUnavailable, err)
	}
	defer rows.Close()

	variants := make([]domain.Variant, 0)
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrCatalogUnavailable, err)
		}
		variants = append(variants, variant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate variants: %w", domain.ErrCatalogUnavailable, err)
	}
	return variants, nil
}

// ReplaceVariants делает переданный набор единственным активным:
// известные SKU обновляются, отсутствующие в наборе деактивируются.
func (r *CatalogRepository) ReplaceVariants(ctx context.Context, variants []domain.Variant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return inTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE variants SET active = FALSE, updated_at = NOW() WHERE active`); err != nil {
			return fmt.Errorf("deactivate variants: %w", err)
		}
		for _, variant := range variants {
			attributes, tags, err := encodeVariantMeta(variant)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO variants (sku, product_id, product_name, name, attributes, tags, price, active, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,NOW())
				ON CONFLICT (sku) DO UPDATE SET
					product_id = EXCLUDED.product_id,
					product_name = EXCLUDED.product_name,
					name = EXCLUDED.name,
					attributes = EXCLUDED.attributes,
					tags = EXCLUDED.tags,
					price = EXCLUDED.price,
					active = TRUE,
					updated_at = NOW()
			`, variant.SKU, variant.ProductID, variant.ProductName, variant.Name, attributes, tags, variant.Price); err != nil {
				return fmt.Errorf("upsert variant %s: %w", variant.SKU, err)
			}
		}
		return nil
	})
}

func scanVariant(row rowScanner) (domain.Variant, error) {
	var (
		variant          domain.Variant
		attributes, tags []byte
	)
	if err := row.Scan(&variant.SKU, &variant.ProductID, &variant.ProductName, &variant.Name, &attributes, &tags, &variant.Price); err != nil {
		return domain.Variant{}, err
	}
	if err := decodeVariantMeta(&variant, attributes, tags); err != nil {
		return domain.Variant{}, err
	}
	return variant, nil
}

func encodeVariantMeta(variant domain.Variant) (string, string, error) {
	attributes := variant.Attributes
	if attributes == nil {
		attributes = map[string]string{}
	}
	tags := variant.Tags
	if tags == nil {
		tags = []string{}
	}
	rawAttributes, err := json.Marshal(attributes)
	if err != nil {
		return "", "", fmt.Errorf("marshal attributes of %s: %w", variant.SKU, err)
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("marshal tags of %s: %w", variant.SKU, err)
	}
	return string(rawAttributes), string(rawTags), nil
}

func decodeVariantMeta(variant *domain.Variant, attributes, tags []byte) error {
	if len(attributes) > 0 {
		if err := json.Unmarshal(attributes, &variant.Attributes); err != nil {
			return fmt.Errorf("unmarshal attributes of %s: %w", variant.SKU, err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &variant.Tags); err != nil {
			return fmt.Errorf("unmarshal tags of %s: %w", variant.SKU, err)
		}
	}
	if len(variant.Attributes) == 0 {
		variant.Attributes = nil
	}
	if len(variant.Tags) == 0 {
		variant.Tags = nil
	}
	return nil
}

var _ domain.CatalogReader = (*CatalogRepository)(nil)
