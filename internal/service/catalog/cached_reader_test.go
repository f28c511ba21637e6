package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

type countingReader struct {
	mu       sync.Mutex
	calls    int
	fail     bool
	variants []domain.Variant
}

func (r *countingReader) BySKU(context.Context, string) (domain.Variant, error) {
	return domain.Variant{}, domain.ErrVariantNotFound
}

func (r *countingReader) Variants(context.Context) ([]domain.Variant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail {
		return nil, errors.New("db down")
	}
	return r.variants, nil
}

func TestCachedReader_ReusesSnapshotWithinTTL(t *testing.T) {
	source := &countingReader{variants: []domain.Variant{{SKU: "A"}}}
	reader := NewCachedReader(source, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reader.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := reader.Variants(context.Background()); err != nil {
			t.Fatalf("variants: %v", err)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected 1 source call, got %d", source.calls)
	}

	variant, err := reader.BySKU(context.Background(), "A")
	if err != nil || variant.SKU != "A" {
		t.Fatalf("by sku: %+v %v", variant, err)
	}
	if _, err := reader.BySKU(context.Background(), "B"); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := reader.Variants(context.Background()); err != nil {
		t.Fatalf("variants: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected reload after ttl, got %d calls", source.calls)
	}
}

func TestCachedReader_ServesStaleSnapshotOnFailure(t *testing.T) {
	source := &countingReader{variants: []domain.Variant{{SKU: "A"}}}
	reader := NewCachedReader(source, time.Minute)
	if _, err := reader.Variants(context.Background()); err != nil {
		t.Fatalf("variants: %v", err)
	}

	source.fail = true
	reader.Invalidate()
	variants, err := reader.Variants(context.Background())
	if err != nil {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
	if len(variants) != 1 {
		t.Fatalf("unexpected variants %+v", variants)
	}
}

func TestCachedReader_PropagatesErrorWithoutSnapshot(t *testing.T) {
	reader := NewCachedReader(&countingReader{fail: true}, time.Minute)
	if _, err := reader.Variants(context.Background()); err == nil {
		t.Fatal("expected error without any snapshot")
	}
}
