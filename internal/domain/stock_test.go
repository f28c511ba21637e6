package domain

import "testing"

func TestAggregateLinesMergesDuplicateSKUs(t *testing.T) {
	order, totals := AggregateLines([]StockLine{
		{SKU: "B", Quantity: 2},
		{SKU: "A", Quantity: 1},
		{SKU: "B", Quantity: 3},
	})

	if len(order) != 2 || order[0] != "B" || order[1] != "A" {
		t.Fatalf("unexpected order %v", order)
	}
	if totals["B"] != 5 || totals["A"] != 1 {
		t.Fatalf("unexpected totals %v", totals)
	}
}

func TestStockLineValidate(t *testing.T) {
	if err := (StockLine{SKU: "A", Quantity: 1, Reason: MovementOrderFulfillment}).Validate(); err != nil {
		t.Fatalf("expected valid line, got %v", err)
	}
	if err := (StockLine{Quantity: 1, Reason: MovementOrderFulfillment}).Validate(); err != ErrSKURequired {
		t.Fatalf("expected ErrSKURequired, got %v", err)
	}
	if err := (StockLine{SKU: "A", Quantity: -1, Reason: MovementOrderFulfillment}).Validate(); err != ErrInvalidQuantity {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := (StockLine{SKU: "A", Quantity: 1, Reason: "gift"}).Validate(); err != ErrInvalidMovementReason {
		t.Fatalf("expected ErrInvalidMovementReason, got %v", err)
	}
}

func TestVariantDisplayName(t *testing.T) {
	v := Variant{Name: "Rosier Rouge", Attributes: map[string]string{"taille": "60cm", "couleur": "rouge"}}
	if got := v.DisplayName(); got != "Rosier Rouge (rouge, 60cm)" {
		t.Fatalf("unexpected display name %q", got)
	}
	if got := (Variant{ProductName: "Engrais"}).DisplayName(); got != "Engrais" {
		t.Fatalf("unexpected display name %q", got)
	}
}

func TestPartialIntentCloneIsDeep(t *testing.T) {
	p := PartialIntent{
		Lines:   []PartialLine{{Variant: Variant{SKU: "A"}, Quantity: 1}},
		Pending: &PendingItem{Text: "engrais", Candidates: []Candidate{{Score: 0.9}}},
		Address: &Address{City: "Lyon"},
	}
	c := p.Clone()
	c.Lines[0].Quantity = 99
	c.Pending.Candidates[0].Score = 0.1
	c.Address.City = "Paris"

	if p.Lines[0].Quantity != 1 || p.Pending.Candidates[0].Score != 0.9 || p.Address.City != "Lyon" {
		t.Fatalf("clone shares state with original: %+v", p)
	}
}
