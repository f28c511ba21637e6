package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/intake/internal/domain"
)

const (
	// DefaultMinScore: ниже этого порога совпадение считается непригодным.
	DefaultMinScore = 0.45
	// DefaultAmbiguityTolerance: кандидаты в пределах этой разницы с лучшим считаются неразличимыми.
	DefaultAmbiguityTolerance = 0.05
	// DefaultTopN: сколько кандидатов показывать пользователю при неоднозначности.
	DefaultTopN = 5

	exactScore    = 1.0
	maxFuzzyScore = 0.99

	nameWeight      = 1.0
	attributeWeight = 0.9
	tagWeight       = 0.9
)

// Options задаёт параметры резолвера.
type Options struct {
	Logger             *log.Entry
	MinScore           float64
	AmbiguityTolerance float64
}

// Option настраивает Resolver.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMinScore задаёт минимальную оценку совпадения.
func WithMinScore(score float64) Option {
	return func(opts *Options) {
		opts.MinScore = score
	}
}

// WithAmbiguityTolerance задаёт допуск неоднозначности.
func WithAmbiguityTolerance(tolerance float64) Option {
	return func(opts *Options) {
		opts.AmbiguityTolerance = tolerance
	}
}

// Resolver сопоставляет текстовую ссылку на товар с вариантами каталога.
// Не имеет побочных эффектов: для фиксированного снимка каталога результат детерминирован.
type Resolver struct {
	reader    domain.CatalogReader
	logger    *log.Entry
	minScore  float64
	tolerance float64
}

// NewResolver создаёт резолвер поверх read-модели каталога.
func NewResolver(reader domain.CatalogReader, options ...Option) *Resolver {
	opts := Options{
		MinScore:           DefaultMinScore,
		AmbiguityTolerance: DefaultAmbiguityTolerance,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "catalog-resolver")
	}
	if opts.MinScore <= 0 || opts.MinScore > 1 {
		opts.MinScore = DefaultMinScore
	}
	if opts.AmbiguityTolerance < 0 {
		opts.AmbiguityTolerance = DefaultAmbiguityTolerance
	}

	return &Resolver{
		reader:    reader,
		logger:    logger,
		minScore:  opts.MinScore,
		tolerance: opts.AmbiguityTolerance,
	}
}

// Resolve возвращает одного кандидата при однозначном совпадении, несколько
// (не больше topN) при неоднозначности и пустой список, если совпадений нет.
func (r *Resolver) Resolve(ctx context.Context, text string, topN int) ([]domain.Candidate, error) {
	ranked, err := r.Rank(ctx, text, 0)
	if err != nil || len(ranked) == 0 {
		return nil, err
	}

	best := ranked[0].Score
	group := ranked[:1]
	for i := 1; i < len(ranked); i++ {
		if best-ranked[i].Score > r.tolerance+1e-9 {
			break
		}
		group = ranked[:i+1]
	}

	if topN <= 0 {
		topN = DefaultTopN
	}
	if len(group) > topN {
		group = group[:topN]
	}
	return append([]domain.Candidate(nil), group...), nil
}

// Rank возвращает все кандидаты выше порога, упорядоченные по убыванию оценки, затем по SKU.
func (r *Resolver) Rank(ctx context.Context, text string, topN int) ([]domain.Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	variants, err := r.reader.Variants(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrCatalogUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogUnavailable, err)
	}

	if exact, ok := exactSKU(text, variants); ok {
		return []domain.Candidate{{Variant: exact, Score: exactScore}}, nil
	}

	query := tokens(text)
	if len(query) == 0 {
		return nil, nil
	}

	ranked := make([]domain.Candidate, 0)
	for _, variant := range variants {
		score := scoreVariant(query, variant)
		if score < r.minScore {
			continue
		}
		ranked = append(ranked, domain.Candidate{Variant: variant, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Variant.SKU < ranked[j].Variant.SKU
	})

	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	r.logger.WithFields(log.Fields{
		"query_tokens": len(query),
		"candidates":   len(ranked),
	}).Debug("catalog reference ranked")

	return ranked, nil
}

func exactSKU(text string, variants []domain.Variant) (domain.Variant, bool) {
	if len(variants) == 0 {
		return domain.Variant{}, false
	}
	bySKU := make(map[string]domain.Variant, len(variants))
	for _, variant := range variants {
		bySKU[strings.ToUpper(variant.SKU)] = variant
	}
	for _, field := range strings.Fields(text) {
		field = strings.ToUpper(strings.Trim(field, ".,;:!?()[]\"'"))
		if variant, ok := bySKU[field]; ok {
			return variant, true
		}
	}
	return domain.Variant{}, false
}

func scoreVariant(query []string, variant domain.Variant) float64 {
	nameTokens := tokens(variant.Name + " " + variant.ProductName)
	attrValues := make([]string, 0, len(variant.Attributes))
	for _, value := range variant.Attributes {
		attrValues = append(attrValues, value)
	}
	attrTokens := tokens(strings.Join(attrValues, " "))
	tagTokens := tokens(strings.Join(variant.Tags, " "))

	var covered float64
	for _, q := range query {
		best := bestSimilarity(q, nameTokens) * nameWeight
		best = math.Max(best, bestSimilarity(q, attrTokens)*attributeWeight)
		best = math.Max(best, bestSimilarity(q, tagTokens)*tagWeight)
		covered += best
	}
	coverage := covered / float64(len(query))

	var nameCoverage float64
	if len(nameTokens) > 0 {
		matched := 0
		for _, n := range nameTokens {
			if bestSimilarity(n, query) > 0 {
				matched++
			}
		}
		nameCoverage = float64(matched) / float64(len(nameTokens))
	}

	score := 0.85*coverage + 0.15*nameCoverage
	score = math.Round(score*10000) / 10000
	return math.Min(score, maxFuzzyScore)
}

func bestSimilarity(token string, candidates []string) float64 {
	var best float64
	for _, candidate := range candidates {
		if sim := similarity(token, candidate); sim > best {
			best = sim
			if best == 1 {
				break
			}
		}
	}
	return best
}

// similarity: точное совпадение 1.0, общий префикс 0.85, иначе по расстоянию Левенштейна.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if min(la, lb) >= 4 && (strings.HasPrefix(a, b) || strings.HasPrefix(b, a)) {
		return 0.85
	}
	maxLen := max(la, lb)
	if maxLen < 4 {
		return 0
	}
	sim := 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
	if sim < 0.75 {
		return 0
	}
	return sim * 0.9
}
