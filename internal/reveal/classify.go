package reveal

import (
	"strings"

	"github.com/revealrank/revealrank/internal/domain"
	"github.com/revealrank/revealrank/internal/metadata"
)

// Classification is the revealed-status of one sampled item.
type Classification int

const (
	ClassNotRevealed Classification = -1
	ClassAmbiguous   Classification = 0
	ClassRevealed    Classification = 1
)

func (c Classification) String() string {
	switch c {
	case ClassNotRevealed:
		return "not_revealed"
	case ClassAmbiguous:
		return "ambiguous"
	case ClassRevealed:
		return "revealed"
	default:
		return "unknown"
	}
}

// Values placeholder metadata uses for its lone trait.
var sentinelValues = map[string]bool{
	"":             true,
	"none":         true,
	"?":            true,
	"??":           true,
	"???":          true,
	"hidden":       true,
	"mystery":      true,
	"unknown":      true,
	"unrevealed":   true,
	"not revealed": true,
	"revealing":    true,
	"coming soon":  true,
}

// Classify scores a parsed sample document. Only attributes with a trait type and
// no display_type count.
func Classify(doc *metadata.Document) Classification {
	if doc == nil {
		return ClassNotRevealed
	}

	var values []string
	for _, group := range [][]domain.Attribute{doc.Attributes, doc.Excluded} {
		for _, a := range group {
			if a.TraitType != "" && a.DisplayType == "" {
				values = append(values, a.Value)
			}
		}
	}

	switch len(values) {
	case 0:
		return ClassNotRevealed
	case 1:
		if sentinelValues[strings.ToLower(strings.TrimSpace(values[0]))] {
			return ClassNotRevealed
		}
		return ClassAmbiguous
	}

	first := values[0]
	for _, v := range values[1:] {
		if v != first {
			return ClassRevealed
		}
	}
	// Every trait carries the same value: a placeholder pattern.
	return ClassNotRevealed
}

// Decide applies the collection-level rule to classified samples: any revealed
// sample wins; otherwise two or more ambiguous samples with differing images
// reveal the collection.
func Decide(samples []Sample) (bool, *Sample) {
	var ambiguous []*Sample
	for i := range samples {
		s := &samples[i]
		switch s.Class {
		case ClassRevealed:
			return true, s
		case ClassAmbiguous:
			ambiguous = append(ambiguous, s)
		}
	}

	if len(ambiguous) < 2 {
		return false, nil
	}
	for _, s := range ambiguous[1:] {
		if s.Image != ambiguous[0].Image {
			return true, ambiguous[0]
		}
	}
	return false, nil
}
