package pipeline

import (
	"context"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/platewise/leadscout/internal/model"
	"github.com/platewise/leadscout/internal/store"
	"github.com/platewise/leadscout/pkg/places"
)

// DefaultDedupeThreshold is the similarity score above which two normalized
// names are treated as the same business.
const DefaultDedupeThreshold = 0.85

// DupResult reports whether a lead duplicates another lead in the same job
// or an entity in the permanent place store.
type DupResult struct {
	IsDuplicate bool
	OfLeadID    string
	OfPlaceID   string
}

// Deduper detects duplicate leads. Exact matching keys on the per-job
// source URL; fuzzy matching scores normalized names against place-store
// candidates sharing the lead's locality.
type Deduper struct {
	store     store.Store
	places    places.Client
	threshold float64
}

// NewDeduper creates a Deduper. A nil places client disables fuzzy matching
// (exact per-job matching still applies). threshold <= 0 uses the default.
func NewDeduper(st store.Store, pl places.Client, threshold float64) *Deduper {
	if threshold <= 0 {
		threshold = DefaultDedupeThreshold
	}
	return &Deduper{store: st, places: pl, threshold: threshold}
}

// Check runs the exact then fuzzy duplicate checks for a lead. Duplicates
// are flagged, never rejected; conversion refuses them later.
func (d *Deduper) Check(ctx context.Context, lead *model.Lead) (*DupResult, error) {
	// Exact: another lead in the same job with the same source URL.
	existing, err := d.store.FindBySourceURL(ctx, lead.JobID, lead.SourceURL, lead.ID)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: exact lookup")
	}
	if existing != nil {
		return &DupResult{IsDuplicate: true, OfLeadID: existing.ID}, nil
	}

	if d.places == nil || lead.Locality == "" || lead.Name == "" {
		return &DupResult{}, nil
	}

	// Fuzzy: place-store candidates sharing the locality, scored by
	// normalized name similarity.
	candidates, err := d.places.SearchByLocality(ctx, lead.Locality)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: candidate lookup")
	}

	name := NormalizeName(lead.Name)
	for _, c := range candidates {
		if NameSimilarity(name, NormalizeName(c.Name)) >= d.threshold {
			return &DupResult{IsDuplicate: true, OfPlaceID: c.ID}, nil
		}
	}
	return &DupResult{}, nil
}

// legalSuffixes are trailing tokens that carry no identity signal.
var legalSuffixes = map[string]bool{
	"llc": true, "inc": true, "co": true, "corp": true, "ltd": true,
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName reduces a business name to a comparable form: lowercase,
// diacritics stripped, punctuation removed, legal suffixes dropped,
// whitespace collapsed.
func NormalizeName(name string) string {
	lowered := strings.ToLower(name)
	if stripped, _, err := transform.String(stripMarks, lowered); err == nil {
		lowered = stripped
	}

	var b strings.Builder
	for _, r := range lowered {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 1 && legalSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// NameSimilarity scores two already-normalized names in [0, 1].
func NameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return levenshtein.Similarity(a, b, nil)
}
