package postgres

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

func TestFindShortages(t *testing.T) {
	t.Parallel()

	order, totals := domain.AggregateLines([]domain.StockLine{
		{SKU: "ROS-001", Quantity: 10},
		{SKU: "ENG-001", Quantity: 8},
		{SKU: "ENG-001", Quantity: 5},
	})
	levels := map[string]domain.StockLevel{
		"ROS-001": {SKU: "ROS-001", Quantity: 50},
		"ENG-001": {SKU: "ENG-001", Quantity: 12},
	}

	require.Equal(t, []domain.Shortage{{SKU: "ENG-001", Requested: 13, Available: 12}}, findShortages(order, totals, levels))

	levels["ENG-001"] = domain.StockLevel{SKU: "ENG-001", Quantity: 13}
	require.Empty(t, findShortages(order, totals, levels))
}

func TestReverseDeltas(t *testing.T) {
	t.Parallel()

	skus, deltas := reverseDeltas([]domain.StockMovement{
		{SKU: "ROS-001", Delta: -10},
		{SKU: "ENG-001", Delta: -2},
		{SKU: "ROS-001", Delta: -5},
	})

	require.Equal(t, []string{"ROS-001", "ENG-001"}, skus)
	require.Equal(t, map[string]int64{"ROS-001": 15, "ENG-001": 2}, deltas)
}

func TestSortedUniqueAndMissing(t *testing.T) {
	t.Parallel()

	sorted := sortedUnique([]string{"ROS-001", "BUL-001", "ROS-001", "ENG-002"})
	require.Equal(t, []string{"BUL-001", "ENG-002", "ROS-001"}, sorted)

	missing := missingSKUs(sorted, map[string]domain.StockLevel{"ENG-002": {}, "ROS-001": {}})
	require.Equal(t, []string{"BUL-001"}, missing)
}

func TestAddressJSON(t *testing.T) {
	t.Parallel()

	value, err := marshalAddress(nil)
	require.NoError(t, err)
	require.Nil(t, value)

	addr := &domain.Address{Line1: "12 rue des Lilas", PostalCode: "75011", City: "Paris"}
	value, err = marshalAddress(addr)
	require.NoError(t, err)
	require.JSONEq(t, `{"line1":"12 rue des Lilas","postal_code":"75011","city":"Paris"}`, value.(string))

	decoded, err := unmarshalAddress([]byte(value.(string)))
	require.NoError(t, err)
	require.Equal(t, addr, decoded)

	decoded, err = unmarshalAddress([]byte("null"))
	require.NoError(t, err)
	require.Nil(t, decoded)

	_, err = unmarshalAddress([]byte("{"))
	require.Error(t, err)
}

func TestVariantMeta(t *testing.T) {
	t.Parallel()

	attributes, tags, err := encodeVariantMeta(domain.Variant{SKU: "ROS-001"})
	require.NoError(t, err)
	require.Equal(t, "{}", attributes)
	require.Equal(t, "[]", tags)

	variant := domain.Variant{SKU: "ROS-001", Price: decimal.RequireFromString("12.50")}
	require.NoError(t, decodeVariantMeta(&variant, []byte(`{"couleur":"rouge"}`), []byte(`["rosier","jardin"]`)))
	require.Equal(t, map[string]string{"couleur": "rouge"}, variant.Attributes)
	require.Equal(t, []string{"rosier", "jardin"}, variant.Tags)

	empty := domain.Variant{SKU: "ENG-001"}
	require.NoError(t, decodeVariantMeta(&empty, []byte(`{}`), []byte(`[]`)))
	require.Nil(t, empty.Attributes)
	require.Nil(t, empty.Tags)
}
