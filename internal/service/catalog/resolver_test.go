package catalog_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/service/catalog"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

func gardenCatalog() *memory.Catalog {
	return memory.NewCatalog(
		domain.Variant{SKU: "ROS-001", ProductName: "Rosier", Name: "Rosier Rouge", Tags: []string{"rose"}, Price: decimal.RequireFromString("12.50")},
		domain.Variant{SKU: "ENG-001", ProductName: "Engrais", Name: "Engrais Universel", Price: decimal.RequireFromString("9.90")},
		domain.Variant{SKU: "ENG-002", ProductName: "Engrais", Name: "Engrais Gazon", Price: decimal.RequireFromString("14.00")},
		domain.Variant{SKU: "TER-010", ProductName: "Terreau", Name: "Terreau Horticole", Attributes: map[string]string{"volume": "50L"}, Tags: []string{"substrat"}, Price: decimal.RequireFromString("7.20")},
		domain.Variant{SKU: "LAV-003", ProductName: "Lavande", Name: "Lavande Vraie", Price: decimal.RequireFromString("4.50")},
	)
}

func TestResolver_ExactSKUShortCircuits(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	candidates, err := resolver.Resolve(context.Background(), "je veux eng-002 svp", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "ENG-002", candidates[0].Variant.SKU)
	require.Equal(t, 1.0, candidates[0].Score)
}

func TestResolver_PluralAndDiacriticsResolveToSingleVariant(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	for _, text := range []string{"rosiers", "ROSIER", "Rosiérs", "je veux 10 rosiers"} {
		candidates, err := resolver.Resolve(context.Background(), text, 5)
		require.NoError(t, err, text)
		require.Len(t, candidates, 1, text)
		require.Equal(t, "ROS-001", candidates[0].Variant.SKU, text)
	}
}

func TestResolver_AmbiguousReferenceReturnsGroup(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	candidates, err := resolver.Resolve(context.Background(), "engrais", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "ENG-001", candidates[0].Variant.SKU)
	require.Equal(t, "ENG-002", candidates[1].Variant.SKU)
}

func TestResolver_SpecificWordBreaksTie(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	candidates, err := resolver.Resolve(context.Background(), "engrais pour gazon", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "ENG-002", candidates[0].Variant.SKU)
}

func TestResolver_TagAndTypoMatching(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	candidates, err := resolver.Resolve(context.Background(), "substrat", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "TER-010", candidates[0].Variant.SKU)

	candidates, err = resolver.Resolve(context.Background(), "lavende", 5)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "LAV-003", candidates[0].Variant.SKU)
}

func TestResolver_ToleratesSingleEditTypos(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	for text, sku := range map[string]string{
		"terrau":  "TER-010",
		"rossier": "ROS-001",
		"lavamde": "LAV-003",
	} {
		candidates, err := resolver.Resolve(context.Background(), text, 5)
		require.NoError(t, err)
		require.NotEmpty(t, candidates, text)
		require.Equal(t, sku, candidates[0].Variant.SKU, text)
		require.Less(t, candidates[0].Score, 1.0, text)
	}
}

func TestResolver_NoUsableMatch(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	for _, text := range []string{"tondeuse", "", "   ", "je veux 3"} {
		candidates, err := resolver.Resolve(context.Background(), text, 5)
		require.NoError(t, err)
		require.Empty(t, candidates, text)
	}
}

func TestResolver_IsDeterministic(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	first, err := resolver.Rank(context.Background(), "engrais rosier", 0)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := resolver.Rank(context.Background(), "engrais rosier", 0)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestResolver_TopNLimitsAmbiguousGroup(t *testing.T) {
	resolver := catalog.NewResolver(gardenCatalog())

	candidates, err := resolver.Resolve(context.Background(), "engrais", 1)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

type failingReader struct{}

func (failingReader) BySKU(context.Context, string) (domain.Variant, error) {
	return domain.Variant{}, errors.New("connection refused")
}

func (failingReader) Variants(context.Context) ([]domain.Variant, error) {
	return nil, errors.New("connection refused")
}

func TestResolver_CatalogUnavailable(t *testing.T) {
	resolver := catalog.NewResolver(failingReader{})

	_, err := resolver.Resolve(context.Background(), "rosier", 5)
	require.ErrorIs(t, err, domain.ErrCatalogUnavailable)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "rosier eleve 60cm", catalog.Normalize("  Rosier ÉLEVÉ, 60cm! "))
	require.Equal(t, "ros-001", catalog.Normalize("ROS-001"))
}
