package domain

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Variant: конкретная продаваемая версия товара (размер, цвет и т.п.).
type Variant struct {
	SKU         string            `json:"sku" yaml:"sku" toml:"sku"`
	ProductID   string            `json:"product_id" yaml:"product_id" toml:"product_id"`
	ProductName string            `json:"product_name" yaml:"product_name" toml:"product_name"`
	Name        string            `json:"name" yaml:"name" toml:"name"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes" toml:"attributes"`
	Tags        []string          `json:"tags,omitempty" yaml:"tags" toml:"tags"`
	Price       decimal.Decimal   `json:"price" yaml:"-" toml:"-"`
}

// DisplayName возвращает имя варианта с атрибутами в стабильном порядке.
func (v Variant) DisplayName() string {
	name := v.Name
	if name == "" {
		name = v.ProductName
	}
	if len(v.Attributes) == 0 {
		return name
	}

	keys := make([]string, 0, len(v.Attributes))
	for key := range v.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, v.Attributes[key])
	}
	return name + " (" + strings.Join(parts, ", ") + ")"
}

// Candidate: вариант каталога с оценкой совпадения в диапазоне [0, 1].
type Candidate struct {
	Variant Variant `json:"variant"`
	Score   float64 `json:"score"`
}
