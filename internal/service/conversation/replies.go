package conversation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

// Сообщения пользователю. Внутренние идентификаторы и тексты ошибок сюда не попадают.
const (
	replyAskProducts       = "Quels produits souhaitez-vous ? Indiquez le nom et la quantité, par exemple « 10 rosiers »."
	replyAskEmail          = "Pour continuer, quelle est votre adresse e-mail ?"
	replyInvalidEmail      = "Cette adresse e-mail ne semble pas valide. Pouvez-vous la vérifier ?"
	replyAskAddress        = "Souhaitez-vous une livraison ou un retrait en magasin ? Pour une livraison, indiquez l'adresse complète (ex : 12 rue des Lilas, 75011 Paris)."
	replyInvalidAddress    = "Je n'ai pas pu lire cette adresse. Indiquez le numéro, la rue, le code postal et la ville, ou dites « retrait »."
	replyNotUnderstood     = "Je n'ai pas bien compris."
	replyRetry             = "Le service est momentanément indisponible. Merci de réessayer dans quelques instants."
	replyCommitRetry       = "Un problème technique a empêché l'enregistrement. Votre panier est conservé : répondez « oui » pour réessayer."
	replyCommitInProgress  = "Votre demande est déjà en cours d'enregistrement. Merci de patienter quelques instants."
	replyCancelled         = "C'est noté, votre demande a été annulée. N'hésitez pas à revenir vers nous."
	replyExpired           = "Votre conversation précédente a expiré faute d'activité."
	replyRejected          = "Votre demande n'a pas pu être enregistrée."
	replyNothingAvailable  = "Aucun des articles demandés n'est disponible pour le moment. Votre demande a été annulée."
	replyInvalidSelection  = "Ce choix ne correspond à aucune proposition."
	replyAnswerUnavailable = "Je ne peux pas répondre à cette question pour le moment."
	replyFinished          = "Cette conversation est terminée."
)

// formatMoney форматирует сумму во французской записи: "62,50 €".
func formatMoney(amount decimal.Decimal) string {
	return strings.Replace(amount.StringFixed(2), ".", ",", 1) + " €"
}

func formatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

func askQuantity(item domain.PendingItem) string {
	name := item.Text
	if len(item.Candidates) == 1 {
		name = item.Candidates[0].Variant.DisplayName()
	}
	return fmt.Sprintf("Combien de « %s » souhaitez-vous ?", name)
}

func askSelection(item domain.PendingItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Plusieurs produits correspondent à « %s » :\n", item.Text)
	for i, c := range item.Candidates {
		fmt.Fprintf(&b, "%d. %s (%s) - %s\n", i+1, c.Variant.DisplayName(), c.Variant.SKU, formatMoney(c.Variant.Price))
	}
	b.WriteString("Lequel souhaitez-vous ? Répondez par le numéro.")
	return b.String()
}

func notFound(texts []string) string {
	quoted := make([]string, len(texts))
	for i, t := range texts {
		quoted[i] = "« " + t + " »"
	}
	return "Je n'ai pas trouvé " + strings.Join(quoted, ", ") + " dans notre catalogue."
}

func noted(lines []domain.PartialLine) string {
	parts := make([]string, len(lines))
	for i, line := range lines {
		parts[i] = fmt.Sprintf("%d × %s", line.Quantity, line.Variant.DisplayName())
	}
	return "J'ai noté : " + strings.Join(parts, ", ") + "."
}

// confirmation строит сводку перед подтверждением. preview, если задан,
// содержит актуальные цены и доступность.
func confirmation(p domain.PartialIntent, preview *domain.Preview) string {
	var b strings.Builder
	if p.Kind == domain.RequestQuote {
		b.WriteString("Récapitulatif de votre devis :\n")
	} else {
		b.WriteString("Récapitulatif de votre commande :\n")
	}

	if preview != nil {
		for _, line := range preview.Lines {
			fmt.Fprintf(&b, "- %d × %s (%s) = %s\n", line.Quantity, line.Name, formatMoney(line.UnitPrice), formatMoney(line.Subtotal))
		}
		fmt.Fprintf(&b, "Total : %s\n", formatMoney(preview.Total))
	} else {
		total := decimal.Zero
		for _, line := range p.Lines {
			fmt.Fprintf(&b, "- %d × %s (%s) = %s\n", line.Quantity, line.Variant.DisplayName(), formatMoney(line.Variant.Price), formatMoney(line.Subtotal()))
			total = total.Add(line.Subtotal())
		}
		fmt.Fprintf(&b, "Total : %s\n", formatMoney(total))
	}

	if p.Delivery == domain.DeliveryPickup {
		b.WriteString("Retrait en magasin\n")
	} else if p.Address != nil {
		fmt.Fprintf(&b, "Livraison : %s\n", p.Address.String())
	}
	fmt.Fprintf(&b, "E-mail : %s\n", p.Email)

	if preview != nil && p.Kind != domain.RequestQuote {
		for _, s := range preview.Shortages {
			fmt.Fprintf(&b, "Attention : stock insuffisant pour %s (%d disponibles).\n", lineName(p, s.SKU), s.Available)
		}
	}

	if p.Kind == domain.RequestQuote {
		b.WriteString("Souhaitez-vous recevoir ce devis ? (oui/non)")
	} else {
		b.WriteString("Confirmez-vous la commande ? (oui/non)")
	}
	return b.String()
}

func backorderOffer(p domain.PartialIntent) string {
	var b strings.Builder
	b.WriteString("Le stock ne permet pas de servir toute la commande :\n")
	for _, s := range p.Shortages {
		fmt.Fprintf(&b, "- %s : %d demandés, %d disponibles\n", lineName(p, s.SKU), s.Requested, s.Available)
	}
	b.WriteString("Souhaitez-vous commander les quantités disponibles ? (oui/non)")
	return b.String()
}

func committed(result domain.OrderResult, kind domain.RequestKind) string {
	if kind == domain.RequestQuote {
		msg := fmt.Sprintf("Votre devis est prêt. Montant total : %s.", formatMoney(result.Total))
		if !result.ExpiresAt.IsZero() {
			msg += fmt.Sprintf(" Il est valable jusqu'au %s.", formatDate(result.ExpiresAt))
		}
		return msg + " Vous allez le recevoir par e-mail."
	}
	return fmt.Sprintf("Merci ! Votre commande est confirmée. Montant total : %s. Vous allez recevoir un récapitulatif par e-mail.", formatMoney(result.Total))
}

func commitFailure(err error) string {
	if errors.Is(err, domain.ErrCommitInProgress) {
		return replyCommitInProgress
	}
	return replyCommitRetry
}

func lineName(p domain.PartialIntent, sku string) string {
	for _, line := range p.Lines {
		if line.Variant.SKU == sku {
			return line.Variant.DisplayName()
		}
	}
	return sku
}

func join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
