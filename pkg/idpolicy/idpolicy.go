// Package idpolicy provides identifier validity predicates. A predicate decides
// whether an identifier is worth an upstream round trip; it never fails.
package idpolicy

import (
	"fmt"
	"regexp"
	"strings"
)

// Predicate reports whether id is syntactically valid for a collection.
type Predicate func(id string) bool

// Patterns builds a predicate that accepts an identifier when it fully matches
// at least one of the given regular expressions.
func Patterns(patterns ...string) (Predicate, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("at least one pattern is required")
	}
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(`^(?:` + p + `)$`)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		res = append(res, re)
	}
	return func(id string) bool {
		for _, re := range res {
			if re.MatchString(id) {
				return true
			}
		}
		return false
	}, nil
}

// MustPatterns is like Patterns but panics on an invalid pattern.
func MustPatterns(patterns ...string) Predicate {
	p, err := Patterns(patterns...)
	if err != nil {
		panic(err)
	}
	return p
}

// Any accepts an identifier accepted by any of the predicates.
func Any(preds ...Predicate) Predicate {
	return func(id string) bool {
		for _, p := range preds {
			if p(id) {
				return true
			}
		}
		return false
	}
}

// NonBlank wraps p so surrounding whitespace never makes an id valid.
func NonBlank(p Predicate) Predicate {
	return func(id string) bool {
		if id == "" || strings.TrimSpace(id) != id {
			return false
		}
		return p(id)
	}
}

var (
	// DBSNP matches dbSNP reference SNP identifiers.
	DBSNP = MustPatterns(`rs\d+`)
	// COSMIC matches COSMIC mutation identifiers.
	COSMIC = MustPatterns(`COSM\d+`)
	// VariantID accepts the identifiers the VEP by-id endpoint resolves.
	VariantID = Any(DBSNP, COSMIC)
	// EnsemblTranscript matches versioned or unversioned Ensembl transcript ids.
	EnsemblTranscript = MustPatterns(`ENST\d+(?:\.\d+)?`)
)
