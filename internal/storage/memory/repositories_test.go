package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/intake/internal/domain"
	"github.com/vladislavdragonenkov/intake/internal/storage/memory"
)

func newOrder(id, email string, created time.Time) domain.Order {
	return domain.Order{
		ID:            id,
		CustomerEmail: email,
		Status:        domain.OrderStatusPending,
		Total:         decimal.RequireFromString("62.50"),
		Lines: []domain.OrderLine{
			{ID: id + "-l1", SKU: "ROS-001", Quantity: 5, PriceAtOrder: decimal.RequireFromString("12.50")},
		},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestOrderRepository_CreateGetList(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOrderRepository()
	now := time.Now().UTC()

	if err := repo.Create(ctx, newOrder("o1", "a@example.com", now)); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newOrder("o2", "a@example.com", now.Add(time.Minute))); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, newOrder("o1", "a@example.com", now)); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, "o1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !stored.Total.Equal(decimal.RequireFromString("62.50")) {
		t.Fatalf("unexpected total %s", stored.Total)
	}

	orders, err := repo.ListByCustomer(ctx, "a@example.com", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 2 || orders[0].ID != "o2" {
		t.Fatalf("expected newest first, got %+v", orders)
	}

	if err := repo.UpdateStatus(ctx, "o1", domain.OrderStatusCancelled); err != nil {
		t.Fatalf("update status failed: %v", err)
	}
	stored, _ = repo.Get(ctx, "o1")
	if stored.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestQuoteRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewQuoteRepository()

	quote := domain.Quote{ID: "q1", Status: domain.QuoteStatusPending}
	if err := repo.Create(ctx, quote); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.UpdateStatus(ctx, "q1", domain.QuoteStatusAccepted, "o1"); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored, err := repo.Get(ctx, "q1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.QuoteStatusAccepted || stored.OrderID != "o1" {
		t.Fatalf("unexpected quote %+v", stored)
	}
	if err := repo.UpdateStatus(ctx, "missing", domain.QuoteStatusRejected, ""); !errors.Is(err, domain.ErrQuoteNotFound) {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
}

func TestOutboxRepository_PendingLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewOutboxRepository()

	first, _ := repo.Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventOrderCommitted})
	second, _ := repo.Enqueue(ctx, domain.OutboxMessage{EventType: domain.EventStockLow})

	pending, err := repo.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first.ID || pending[1].ID != second.ID {
		t.Fatalf("expected enqueue order, got %+v", pending)
	}

	if err := repo.MarkSent(ctx, first.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	stats, _ := repo.Stats(ctx)
	if stats.PendingCount != 1 {
		t.Fatalf("expected 1 pending, got %d", stats.PendingCount)
	}
	if err := repo.MarkFailed(ctx, "missing"); !errors.Is(err, domain.ErrOutboxMessageNotFound) {
		t.Fatalf("expected ErrOutboxMessageNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_ReopenFailed(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()

	if _, err := repo.CreateProcessing(ctx, "commit:s1", "h1", time.Time{}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "commit:s1", "h2", time.Time{}); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
	if err := repo.Reopen(ctx, "commit:s1", "h2"); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("processing record must not be reopened, got %v", err)
	}

	if err := repo.MarkFailed(ctx, "commit:s1", []byte(`{}`)); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := repo.Reopen(ctx, "commit:s1", "h2"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	record, err := repo.Get(ctx, "commit:s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing || record.RequestHash != "h2" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	_, _ = repo.CreateProcessing(ctx, "old", "h", now.Add(-time.Hour))
	_, _ = repo.CreateProcessing(ctx, "new", "h", now.Add(time.Hour))

	deleted, err := repo.DeleteExpired(ctx, now, 10)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := repo.Get(ctx, "new"); err != nil {
		t.Fatalf("fresh record must survive: %v", err)
	}
}

func TestSessionStore_ListIdle(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSessionStore()
	now := time.Now().UTC()

	_ = store.Save(ctx, domain.Session{ID: "fresh", LastActivity: now})
	_ = store.Save(ctx, domain.Session{ID: "stale", LastActivity: now.Add(-time.Hour)})

	idle, err := store.ListIdle(ctx, now.Add(-15*time.Minute), 10)
	if err != nil {
		t.Fatalf("list idle failed: %v", err)
	}
	if len(idle) != 1 || idle[0].ID != "stale" {
		t.Fatalf("unexpected idle sessions %+v", idle)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	_ = store.Delete(ctx, "stale")
	if store.Len() != 1 {
		t.Fatalf("expected 1 session, got %d", store.Len())
	}
}

func TestCustomerDirectory_RememberDeduplicates(t *testing.T) {
	ctx := context.Background()
	dir := memory.NewCustomerDirectory()
	addr := domain.Address{Line1: "1 rue A", PostalCode: "75001", City: "Paris"}

	_ = dir.Remember(ctx, "Client@Example.com", addr)
	_ = dir.Remember(ctx, "client@example.com", addr)

	customer, ok, err := dir.Lookup(ctx, "CLIENT@example.com")
	if err != nil || !ok {
		t.Fatalf("lookup failed: ok=%v err=%v", ok, err)
	}
	if len(customer.Addresses) != 1 {
		t.Fatalf("expected 1 address, got %d", len(customer.Addresses))
	}
}

func TestCatalog_ReplaceVariants(t *testing.T) {
	ctx := context.Background()
	catalog := memory.NewCatalog(domain.Variant{SKU: "B"}, domain.Variant{SKU: "A"})

	variants, _ := catalog.Variants(ctx)
	if len(variants) != 2 || variants[0].SKU != "A" {
		t.Fatalf("expected sorted variants, got %+v", variants)
	}

	catalog.ReplaceVariants([]domain.Variant{{SKU: "C"}})
	if _, err := catalog.BySKU(ctx, "A"); !errors.Is(err, domain.ErrVariantNotFound) {
		t.Fatalf("expected ErrVariantNotFound after replace, got %v", err)
	}
}
