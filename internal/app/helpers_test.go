package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/config"
)

const testSnapshot = `
variants:
  - sku: ROS-001
    product_id: P-ROS
    product_name: Rosier
    name: Rosier Rouge
    price: "12.50"
    tags: [rose]
    stock: 50
  - sku: LAV-003
    name: Lavande Vraie
    price: "4.50"
    stock: 8
    alert_threshold: 5
customers:
  - email: Marie@Example.fr
    name: Marie
    addresses:
      - line1: 12 rue des Lilas
        postal_code: "75011"
        city: Paris
`

// writeSnapshot кладёт снимок каталога во временную директорию.
func writeSnapshot(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testSnapshot), 0o600))
	return path
}

// testConfig возвращает конфигурацию по умолчанию с памятью в качестве хранилища.
func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg, err := config.FromViper(config.New())
	require.NoError(t, err)
	return cfg
}
