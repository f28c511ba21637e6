package intent

import (
	"strings"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const parsingTemplate = `Analyse la demande de l'utilisateur suivante et retourne un objet JSON valide.
Le JSON doit contenir une clé principale "intent" et une clé "items" qui est une liste d'objets.

Intentions possibles pour la clé "intent":
- "demande_produits": L'utilisateur demande des informations sur un ou plusieurs produits, leur stock, leur prix, etc.
- "creer_devis": L'utilisateur exprime clairement l'intention de recevoir un devis pour les produits mentionnés.
- "passer_commande": L'utilisateur veut acheter/commander les produits mentionnés.
- "confirmer": L'utilisateur accepte la proposition en cours.
- "refuser": L'utilisateur refuse la proposition en cours.
- "annuler": L'utilisateur veut abandonner la conversation.
- "identite": L'utilisateur donne son adresse e-mail.
- "adresse": L'utilisateur donne une adresse de livraison ou choisit le retrait en magasin.
- "info_generale": Question générale sur le jardinage, l'entreprise, etc.
- "salutation": Simple bonjour, merci, etc.

Chaque objet dans la liste "items" doit contenir:
- "sku": La référence exacte du produit (ex: "ROS-001") si elle est explicitement mentionnée.
- "base_product": Le nom générique du produit (ex: "rosier", "pot terre cuite").
- "attributes": Un objet JSON contenant les attributs spécifiés (ex: {"taille": "M", "couleur": "rouge"}).
- "quantity": Le nombre entier demandé, ou null si aucune quantité n'est donnée. N'invente jamais de quantité.

Clés optionnelles:
- "email": l'adresse e-mail si elle est donnée.
- "address": l'adresse postale complète sous forme de texte si elle est donnée.
- "delivery_method": "livraison" ou "retrait" si l'utilisateur le précise.

Si plusieurs produits sont mentionnés, ajoute un objet pour chacun dans la liste "items".
Ne retourne que le JSON, sans texte explicatif avant ou après, et sans utiliser de blocs de code markdown.

Contexte: l'assistant attend {expectation}.

Demande Utilisateur: "{input}"

JSON:
`

const generalChatTemplate = `L'utilisateur demande : {input}. Réponds de manière utile, conviviale et pertinente pour un assistant de site e-commerce de jardinage, en français uniquement. Réponds en trois phrases au maximum.`

var expectations = map[domain.State]string{
	domain.StateDisambiguating:       "le choix d'un produit parmi une liste",
	domain.StateAwaitingQuantity:     "une quantité",
	domain.StateAwaitingIdentity:     "l'adresse e-mail du client",
	domain.StateAwaitingAddress:      "une adresse de livraison ou le choix du retrait",
	domain.StateAwaitingConfirmation: "une confirmation (oui ou non)",
}

func sanitizeInput(text string) string {
	text = strings.ReplaceAll(text, `"`, `'`)
	return strings.Join(strings.Fields(text), " ")
}

func buildParsingPrompt(text string, state domain.State) string {
	expectation, ok := expectations[state]
	if !ok {
		expectation = "une demande de produits ou une question"
	}
	return strings.NewReplacer(
		"{expectation}", expectation,
		"{input}", sanitizeInput(text),
	).Replace(parsingTemplate)
}

func buildGeneralPrompt(question string) string {
	return strings.NewReplacer("{input}", sanitizeInput(question)).Replace(generalChatTemplate)
}
