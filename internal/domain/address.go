package domain

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

// Address: адрес доставки или выставления счёта.
type Address struct {
	Line1      string `json:"line1" yaml:"line1" toml:"line1"`
	PostalCode string `json:"postal_code" yaml:"postal_code" toml:"postal_code"`
	City       string `json:"city" yaml:"city" toml:"city"`
	Country    string `json:"country,omitempty" yaml:"country" toml:"country"`
}

var (
	postalCodePattern = regexp.MustCompile(`^[0-9A-Za-z]{4,10}$`)
	postalCityPattern = regexp.MustCompile(`(?i)\b(\d{5})\s+([\p{L}][\p{L}\s'\-]*)$`)
	streetPattern     = regexp.MustCompile(`\d+\s*(bis|ter)?\s*,?\s*\p{L}`)
)

// Validate проверяет обязательные поля адреса.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("%w: street is required", ErrInvalidAddress)
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("%w: city is required", ErrInvalidAddress)
	}
	if !postalCodePattern.MatchString(strings.TrimSpace(a.PostalCode)) {
		return fmt.Errorf("%w: postal code %q", ErrInvalidAddress, a.PostalCode)
	}
	return nil
}

// String форматирует адрес в одну строку.
func (a Address) String() string {
	out := strings.TrimSpace(a.Line1) + ", " + strings.TrimSpace(a.PostalCode) + " " + strings.TrimSpace(a.City)
	if a.Country != "" {
		out += ", " + a.Country
	}
	return out
}

// ParseAddress разбирает строку вида "12 rue des Lilas, 75011 Paris".
func ParseAddress(text string) (Address, error) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if text == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	parts := strings.Split(text, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	country := ""
	if len(parts) >= 3 && !postalCityPattern.MatchString(parts[len(parts)-1]) {
		country = parts[len(parts)-1]
		parts = parts[:len(parts)-1]
	}

	tail := parts[len(parts)-1]
	match := postalCityPattern.FindStringSubmatch(tail)
	if match == nil {
		return Address{}, fmt.Errorf("%w: postal code and city not found", ErrInvalidAddress)
	}

	street := strings.TrimSpace(strings.TrimSuffix(tail, match[0]))
	if len(parts) > 1 {
		street = strings.Join(append(parts[:len(parts)-1:len(parts)-1], street), ", ")
	}
	street = strings.Trim(strings.TrimSpace(street), ",")
	if !streetPattern.MatchString(street) {
		return Address{}, fmt.Errorf("%w: street not found", ErrInvalidAddress)
	}

	addr := Address{
		Line1:      strings.TrimSpace(street),
		PostalCode: match[1],
		City:       strings.TrimSpace(match[2]),
		Country:    country,
	}
	return addr, addr.Validate()
}

// ValidateEmail нормализует e-mail клиента и проверяет его формат.
func ValidateEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty email", ErrInvalidIdentity)
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	at := strings.LastIndex(parsed.Address, "@")
	if at <= 0 || !strings.Contains(parsed.Address[at:], ".") {
		return "", fmt.Errorf("%w: domain is incomplete", ErrInvalidIdentity)
	}
	return strings.ToLower(parsed.Address), nil
}
