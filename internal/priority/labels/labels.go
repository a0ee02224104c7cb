// Package labels derives the binary "known relationship" training label for
// every equipment record.
package labels

import (
	"github.com/gartstein/priority/internal/priority/identity"
	"github.com/gartstein/priority/internal/priority/models"
)

// Result is the outcome of a label-building pass.
type Result struct {
	// Labels holds one 0/1 value per equipment record, in input order.
	Labels []int
	// Positives counts the records labelled 1.
	Positives int
	// RelationshipsAvailable mirrors the record set flag so callers can
	// warn when labels are all zero because the source was missing.
	RelationshipsAvailable bool
}

// Build labels each equipment record 1 when its normalized company identity
// appears among the normalized relationship identities. Matching is exact on
// the normalized form; blank identities never match.
func Build(set models.RecordSet) Result {
	known := IdentitySet(set.Relationships)

	res := Result{
		Labels:                 make([]int, len(set.Equipment)),
		RelationshipsAvailable: set.RelationshipsAvailable,
	}
	for i, rec := range set.Equipment {
		key := identity.Normalize(rec.Company)
		if key == "" {
			continue
		}
		if _, ok := known[key]; ok {
			res.Labels[i] = 1
			res.Positives++
		}
	}
	return res
}

// IdentitySet returns the set of normalized, non-blank relationship identities.
func IdentitySet(relationships []models.RelationshipRecord) map[string]struct{} {
	known := make(map[string]struct{}, len(relationships))
	for _, rel := range relationships {
		if key := identity.Normalize(rel.Company); key != "" {
			known[key] = struct{}{}
		}
	}
	return known
}
