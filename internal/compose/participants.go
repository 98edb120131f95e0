package compose

import (
	"math/rand"

	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Participants are the document-level actors chosen for one build. Any of
// them may be nil when the library holds no resource of the wanted type; the
// composition omits the matching field and validation reports the gap.
type Participants struct {
	Subject   *Pick
	Author    *Pick
	Encounter *Pick
}

// SubjectRef returns the canonical subject reference, or "" without a
// subject. Identity normalization is skipped entirely in that case.
func (p Participants) SubjectRef() string {
	if p.Subject == nil {
		return ""
	}
	return p.Subject.Ref
}

// ChooseParticipants picks a random subject of the identity type, a random
// Practitioner author, and an Encounter. Encounters whose subject reference
// matches the chosen subject are preferred; any encounter serves otherwise.
func ChooseParticipants(ix *library.Index, identityType string, rng *rand.Rand) Participants {
	var p Participants

	if keys := ix.Keys(identityType); len(keys) > 0 {
		p.Subject = pickAt(ix, keys[rng.Intn(len(keys))])
	}
	if keys := ix.Keys("Practitioner"); len(keys) > 0 {
		p.Author = pickAt(ix, keys[rng.Intn(len(keys))])
	}
	if keys := ix.Keys("Encounter"); len(keys) > 0 {
		var matching []fhir.Key
		if p.Subject != nil {
			for _, key := range keys {
				enc, _ := ix.Get(key)
				subj, _ := enc["subject"].(map[string]interface{})
				if subj != nil && subj["reference"] == p.Subject.Ref {
					matching = append(matching, key)
				}
			}
		}
		pool := keys
		if len(matching) > 0 {
			pool = matching
		}
		p.Encounter = pickAt(ix, pool[rng.Intn(len(pool))])
	}
	return p
}

func pickAt(ix *library.Index, key fhir.Key) *Pick {
	body, _ := ix.Get(key)
	return &Pick{Ref: key.Ref(), Resource: body, Key: key}
}
