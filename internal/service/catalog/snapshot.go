package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// Snapshot содержит файл каталога: варианты, начальные остатки и клиенты.
type Snapshot struct {
	Variants  []domain.Variant
	Stock     []domain.StockLevel
	Customers []domain.Customer
}

type snapshotFile struct {
	Variants  []variantRecord   `yaml:"variants" toml:"variants"`
	Customers []domain.Customer `yaml:"customers" toml:"customers"`
}

type variantRecord struct {
	SKU            string            `yaml:"sku" toml:"sku"`
	ProductID      string            `yaml:"product_id" toml:"product_id"`
	ProductName    string            `yaml:"product_name" toml:"product_name"`
	Name           string            `yaml:"name" toml:"name"`
	Price          string            `yaml:"price" toml:"price"`
	Attributes     map[string]string `yaml:"attributes" toml:"attributes"`
	Tags           []string          `yaml:"tags" toml:"tags"`
	Stock          *int64            `yaml:"stock" toml:"stock"`
	AlertThreshold *int64            `yaml:"alert_threshold" toml:"alert_threshold"`
}

// LoadSnapshot читает снимок каталога из YAML или TOML (по расширению файла).
func LoadSnapshot(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read catalog snapshot: %w", err)
	}
	return ParseSnapshot(raw, filepath.Ext(path))
}

// ParseSnapshot разбирает содержимое снимка; ext: ".yaml", ".yml" или ".toml".
func ParseSnapshot(raw []byte, ext string) (Snapshot, error) {
	var file snapshotFile
	switch strings.ToLower(ext) {
	case ".toml":
		if err := toml.Unmarshal(raw, &file); err != nil {
			return Snapshot{}, fmt.Errorf("decode toml snapshot: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(raw, &file); err != nil {
			return Snapshot{}, fmt.Errorf("decode yaml snapshot: %w", err)
		}
	default:
		return Snapshot{}, fmt.Errorf("unsupported snapshot format %q", ext)
	}

	snapshot := Snapshot{
		Variants:  make([]domain.Variant, 0, len(file.Variants)),
		Customers: file.Customers,
	}
	seen := make(map[string]struct{}, len(file.Variants))
	for i, record := range file.Variants {
		sku := strings.TrimSpace(record.SKU)
		if sku == "" {
			return Snapshot{}, fmt.Errorf("variant #%d: %w", i+1, domain.ErrSKURequired)
		}
		if _, dup := seen[sku]; dup {
			return Snapshot{}, fmt.Errorf("variant %s: duplicate sku", sku)
		}
		seen[sku] = struct{}{}

		price, err := decimal.NewFromString(strings.TrimSpace(record.Price))
		if err != nil {
			return Snapshot{}, fmt.Errorf("variant %s: invalid price %q: %w", sku, record.Price, err)
		}
		if price.IsNegative() {
			return Snapshot{}, fmt.Errorf("variant %s: negative price", sku)
		}

		snapshot.Variants = append(snapshot.Variants, domain.Variant{
			SKU:         sku,
			ProductID:   record.ProductID,
			ProductName: record.ProductName,
			Name:        record.Name,
			Attributes:  record.Attributes,
			Tags:        record.Tags,
			Price:       price,
		})

		if record.Stock != nil {
			if *record.Stock < 0 {
				return Snapshot{}, fmt.Errorf("variant %s: negative stock", sku)
			}
			threshold := domain.DefaultAlertThreshold
			if record.AlertThreshold != nil {
				threshold = *record.AlertThreshold
			}
			snapshot.Stock = append(snapshot.Stock, domain.StockLevel{
				SKU:            sku,
				Quantity:       *record.Stock,
				AlertThreshold: threshold,
			})
		}
	}

	return snapshot, nil
}
