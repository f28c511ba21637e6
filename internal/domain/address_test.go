package domain

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Address
	}{
		{
			name: "street and city",
			in:   "12 rue des Lilas, 75011 Paris",
			want: Address{Line1: "12 rue des Lilas", PostalCode: "75011", City: "Paris"},
		},
		{
			name: "no comma",
			in:   "3 bis avenue Foch 69006 Lyon",
			want: Address{Line1: "3 bis avenue Foch", PostalCode: "69006", City: "Lyon"},
		},
		{
			name: "with country",
			in:   "8 chemin du Moulin, 13100 Aix-en-Provence, France",
			want: Address{Line1: "8 chemin du Moulin", PostalCode: "13100", City: "Aix-en-Provence", Country: "France"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("parse %q = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseAddressRejectsIncomplete(t *testing.T) {
	for _, in := range []string{"", "Paris", "rue des Lilas, 75011 Paris", "12 rue des Lilas"} {
		if _, err := ParseAddress(in); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("parse %q: expected ErrInvalidAddress, got %v", in, err)
		}
	}
}

func TestValidateEmail(t *testing.T) {
	got, err := ValidateEmail("  Marie.Dupont@Example.FR ")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got != "marie.dupont@example.fr" {
		t.Fatalf("unexpected normalized email %q", got)
	}

	for _, in := range []string{"", "marie", "marie@", "marie@localhost"} {
		if _, err := ValidateEmail(in); !errors.Is(err, ErrInvalidIdentity) {
			t.Fatalf("validate %q: expected ErrInvalidIdentity, got %v", in, err)
		}
	}
}
