package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/hla-match-prediction/internal/domain"
)

// ExpandedPhenotype holds, per locus, the distinct unordered pairs of allele
// groups consistent with a subject's typing. Untyped and excluded loci are
// Excluded; DPB1 is always Excluded.
type ExpandedPhenotype = domain.LociInfo[domain.Option[[]domain.LocusInfo[string]]]

// AmbiguousPhenotypeExpander resolves ambiguous typings into the allele
// group pairs they could represent
type AmbiguousPhenotypeExpander struct {
	logger *logrus.Logger
}

// NewAmbiguousPhenotypeExpander creates a new expander
func NewAmbiguousPhenotypeExpander(logger *logrus.Logger) *AmbiguousPhenotypeExpander {
	return &AmbiguousPhenotypeExpander{logger: logger}
}

// ExpandPhenotype resolves every typed match prediction locus through the
// dictionary. The first typing that cannot be resolved fails the whole
// subject with *domain.HlaResolutionError.
func (e *AmbiguousPhenotypeExpander) ExpandPhenotype(
	ctx context.Context,
	dictionary domain.HlaMetadataDictionary,
	subject string,
	typing domain.PhenotypeInfo[string],
	nomenclatureVersion string,
	excluded domain.LocusSet,
) (ExpandedPhenotype, error) {
	var expanded ExpandedPhenotype
	for _, locus := range domain.AllLoci {
		expanded.Set(locus, domain.Excluded[[]domain.LocusInfo[string]]())
	}

	for _, locus := range domain.MatchPredictionLoci {
		if excluded.Contains(locus) || !domain.IsLocusTyped(typing, locus) {
			continue
		}

		info := typing.At(locus)
		first, err := e.resolve(ctx, dictionary, subject, locus, info.Position1, nomenclatureVersion)
		if err != nil {
			return ExpandedPhenotype{}, err
		}
		second := first
		if info.Position2 != info.Position1 {
			second, err = e.resolve(ctx, dictionary, subject, locus, info.Position2, nomenclatureVersion)
			if err != nil {
				return ExpandedPhenotype{}, err
			}
		}

		pairs := CombinePositions(first, second)
		expanded.Set(locus, domain.Present(pairs))

		e.logger.WithFields(logrus.Fields{
			"subject": subject,
			"locus":   locus.String(),
			"pairs":   len(pairs),
		}).Debug("Expanded locus typing")
	}

	return expanded, nil
}

func (e *AmbiguousPhenotypeExpander) resolve(
	ctx context.Context,
	dictionary domain.HlaMetadataDictionary,
	subject string,
	locus domain.Locus,
	typing string,
	nomenclatureVersion string,
) ([]string, error) {
	values, err := dictionary.Resolve(ctx, locus, typing, nomenclatureVersion)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &domain.HlaResolutionError{Subject: subject, Locus: locus, Typing: typing, Err: err}
	}
	distinct := distinctSorted(values)
	if len(distinct) == 0 {
		return nil, &domain.HlaResolutionError{
			Subject: subject,
			Locus:   locus,
			Typing:  typing,
			Err:     fmt.Errorf("typing resolved to no allele groups"),
		}
	}
	return distinct, nil
}

// CombinePositions returns the distinct unordered pairs (a, b) with a drawn
// from first and b from second. Each pair is stored with its values in
// lexical order and the result is sorted, so expansion is deterministic.
func CombinePositions(first, second []string) []domain.LocusInfo[string] {
	seen := make(map[domain.LocusInfo[string]]struct{}, len(first)*len(second))
	pairs := make([]domain.LocusInfo[string], 0, len(first)*len(second))
	for _, a := range first {
		for _, b := range second {
			pair := canonicalPair(a, b)
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}
			pairs = append(pairs, pair)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Position1 != pairs[j].Position1 {
			return pairs[i].Position1 < pairs[j].Position1
		}
		return pairs[i].Position2 < pairs[j].Position2
	})
	return pairs
}

func canonicalPair(a, b string) domain.LocusInfo[string] {
	if b < a {
		a, b = b, a
	}
	return domain.NewLocusInfo(a, b)
}

func distinctSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
