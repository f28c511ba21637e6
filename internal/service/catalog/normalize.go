package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopwords: служебные слова реплик, не несущие информации о товаре.
var stopwords = map[string]struct{}{
	"je": {}, "j": {}, "veux": {}, "voudrais": {}, "souhaite": {}, "aimerais": {},
	"le": {}, "la": {}, "les": {}, "l": {}, "un": {}, "une": {}, "des": {},
	"de": {}, "du": {}, "d": {}, "pour": {}, "avec": {}, "et": {}, "en": {},
	"au": {}, "aux": {}, "a": {}, "svp": {}, "merci": {}, "commander": {},
	"acheter": {}, "prendre": {}, "devis": {}, "il": {}, "me": {}, "faut": {},
}

// Normalize приводит текст к виду для сравнения: без диакритики, в нижнем
// регистре, пунктуация заменена пробелами.
func Normalize(text string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		out = text
	}
	out = cases.Fold().String(out)

	var b strings.Builder
	b.Grow(len(out))
	space := true
	for _, r := range out {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokens разбивает нормализованный текст на значимые слова.
// Числа и стоп-слова отбрасываются, множественное число сводится к единственному.
func tokens(text string) []string {
	fields := strings.Fields(strings.ReplaceAll(Normalize(text), "-", " "))
	out := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		if _, skip := stopwords[field]; skip {
			continue
		}
		if isNumber(field) {
			continue
		}
		field = singular(field)
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	return out
}

func singular(word string) string {
	if len(word) > 3 && (strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x")) {
		return word[:len(word)-1]
	}
	return word
}

func isNumber(word string) bool {
	for _, r := range word {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return word != ""
}
