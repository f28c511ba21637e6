package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

var emailPattern = regexp.MustCompile(`[^\s@<>,;:"']+@[^\s@<>,;:"']+\.[^\s@<>,;:"']+`)

// negativeNumber ловит знак минус, который fold отбрасывает.
var negativeNumber = regexp.MustCompile(`-\s*\d`)

var (
	affirmatives = []string{
		"oui", "ok", "okay", "d accord", "daccord", "parfait", "je confirme", "confirme",
		"confirmer", "je valide", "valide", "valider", "c est bon", "ca marche", "vas y",
		"allez y", "yes", "bien sur", "tout a fait", "volontiers",
	}
	negatives = []string{
		"non", "no", "pas maintenant", "je refuse", "refuse", "refuser", "surtout pas",
	}
	cancels = []string{
		"annuler", "annule", "annulez", "annulation", "stop", "laisse tomber", "laissez tomber",
		"abandonner", "j abandonne", "oublie", "oubliez",
	}
	pickupPhrases = []string{
		"retrait", "retirer", "sur place", "en magasin", "je passe", "je viendrai", "click and collect",
	}
	shippingPhrases = []string{
		"livraison", "livrer", "livre", "livrez", "expedition", "expedier",
	}
)

var numberWords = map[string]int64{
	"un": 1, "une": 1, "deux": 2, "trois": 3, "quatre": 4, "cinq": 5, "six": 6,
	"sept": 7, "huit": 8, "neuf": 9, "dix": 10, "onze": 11, "douze": 12,
	"quinze": 15, "vingt": 20, "trente": 30, "quarante": 40, "cinquante": 50, "cent": 100,
}

var ordinals = map[string]int{
	"premier": 1, "premiere": 1, "un": 1, "une": 1,
	"deuxieme": 2, "second": 2, "seconde": 2, "deux": 2,
	"troisieme": 3, "trois": 3, "quatrieme": 4, "quatre": 4, "cinquieme": 5, "cinq": 5,
}

var quantityFiller = wordSet(
	"je", "j", "en", "veux", "voudrais", "prends", "prendrai", "mettez", "mets", "moi", "m",
	"il", "s", "vous", "plait", "svp", "unites", "unite", "pieces", "piece", "exemplaires",
	"exemplaire", "x", "merci", "alors", "donc", "fois", "pots", "pot", "sacs", "sac",
)

var selectionFiller = wordSet(
	"le", "la", "l", "numero", "n", "no", "choix", "option", "celui", "celle", "ci",
	"je", "prends", "veux", "voudrais", "prendrai", "c", "est", "produit", "merci", "svp",
)

type tokenSet map[string]struct{}

func wordSet(words ...string) tokenSet {
	set := make(tokenSet, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func (s tokenSet) has(word string) bool {
	_, ok := s[word]
	return ok
}

// quickParse распознаёт короткие реплики без обращения к модели.
// Второе значение false означает, что реплику нужно отдать модели.
func quickParse(text string, sc SessionContext) (domain.Intent, bool) {
	folded := fold(text)
	if folded == "" {
		return domain.Intent{}, false
	}
	words := strings.Fields(folded)
	short := len(words) <= 6
	hasDigit := strings.ContainsAny(folded, "0123456789")

	if short && !hasDigit && hasPhrasePrefix(folded, cancels) {
		return domain.Intent{Kind: domain.IntentCancel, Text: text}, true
	}

	if email := findEmail(text); email != "" {
		rest := strings.Fields(strings.Replace(text, email, "", 1))
		if sc.State == domain.StateAwaitingIdentity || len(rest) <= 4 {
			return domain.Intent{Kind: domain.IntentProvideIdentity, Text: text, Email: email}, true
		}
	} else if sc.State == domain.StateAwaitingIdentity && strings.Contains(text, "@") {
		return domain.Intent{Kind: domain.IntentProvideIdentity, Text: text, Email: text}, true
	}

	switch sc.State {
	case domain.StateAwaitingAddress:
		if intent, ok := quickAddress(text, folded, short, hasDigit); ok {
			return intent, true
		}
	case domain.StateAwaitingQuantity:
		if negativeNumber.MatchString(text) {
			break
		}
		if n, ok := bareQuantity(words); ok {
			return domain.Intent{
				Kind:  domain.IntentOrderRequest,
				Text:  text,
				Items: []domain.IntentItem{{Quantity: n}},
			}, true
		}
	case domain.StateDisambiguating:
		if n, ok := selection(text, words, sc.Candidates); ok {
			return domain.Intent{Kind: domain.IntentSelect, Text: text, Selection: n}, true
		}
	}

	if short && !hasDigit {
		switch {
		case hasPhrasePrefix(folded, negatives):
			return domain.Intent{Kind: domain.IntentConfirmNegative, Text: text}, true
		case hasPhrasePrefix(folded, affirmatives):
			return domain.Intent{Kind: domain.IntentConfirmAffirmative, Text: text}, true
		}
	}
	return domain.Intent{}, false
}

func quickAddress(text, folded string, short, hasDigit bool) (domain.Intent, bool) {
	if containsPhrase(folded, pickupPhrases) {
		return domain.Intent{Kind: domain.IntentProvideAddress, Text: text, Delivery: domain.DeliveryPickup}, true
	}
	if addr, err := domain.ParseAddress(text); err == nil {
		return domain.Intent{
			Kind:     domain.IntentProvideAddress,
			Text:     text,
			Address:  &addr,
			Delivery: domain.DeliveryShipping,
		}, true
	}
	if hasDigit {
		return domain.Intent{
			Kind:     domain.IntentProvideAddress,
			Text:     text,
			Delivery: domain.DeliveryShipping,
			Err:      domain.ErrInvalidAddress,
		}, true
	}
	if short && containsPhrase(folded, shippingPhrases) {
		return domain.Intent{Kind: domain.IntentProvideAddress, Text: text, Delivery: domain.DeliveryShipping}, true
	}
	return domain.Intent{}, false
}

func findEmail(text string) string {
	return strings.TrimRight(emailPattern.FindString(text), ".!?")
}

// bareQuantity принимает реплику из одного числа и слов-заполнителей ("10", "dix svp").
func bareQuantity(words []string) (int64, bool) {
	var (
		n     int64
		found bool
	)
	for _, w := range words {
		if v, err := strconv.ParseInt(w, 10, 64); err == nil {
			if found || v <= 0 {
				return 0, false
			}
			n, found = v, true
			continue
		}
		if v, ok := numberWords[w]; ok {
			if found {
				return 0, false
			}
			n, found = v, true
			continue
		}
		if !quantityFiller.has(w) {
			return 0, false
		}
	}
	return n, found
}

// selection распознаёт выбор кандидата по номеру, порядковому слову или SKU.
func selection(text string, words []string, candidates []domain.Candidate) (int, bool) {
	trimmed := strings.TrimSpace(text)
	for i, c := range candidates {
		if strings.EqualFold(trimmed, c.Variant.SKU) {
			return i + 1, true
		}
	}

	var rest []string
	for _, w := range words {
		if !selectionFiller.has(w) {
			rest = append(rest, w)
		}
	}
	if len(rest) != 1 {
		return 0, false
	}
	word := rest[0]
	if n, err := strconv.Atoi(word); err == nil {
		return n, true
	}
	if n, ok := ordinals[word]; ok {
		return n, true
	}
	if (word == "dernier" || word == "derniere") && len(candidates) > 0 {
		return len(candidates), true
	}
	return 0, false
}

func hasPhrasePrefix(folded string, phrases []string) bool {
	for _, phrase := range phrases {
		if folded == phrase || strings.HasPrefix(folded, phrase+" ") {
			return true
		}
	}
	return false
}

func containsPhrase(folded string, phrases []string) bool {
	padded := " " + folded + " "
	for _, phrase := range phrases {
		if strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}
	return false
}
