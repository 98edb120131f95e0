package synth

import (
	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Populate adds n synthesized vital-sign Observations to the index. When the
// index holds no Patient, a minimal synthetic one is minted first so the
// observations have a subject. Subjects and encounter contexts rotate
// round-robin over what the library already holds. Returns the keys of every
// resource added.
func (g *Generator) Populate(ix *library.Index, n int) ([]fhir.Key, error) {
	if n <= 0 {
		return nil, nil
	}

	var added []fhir.Key
	patients := ix.Keys("Patient")
	if len(patients) == 0 {
		key, err := ix.Add(g.Patient())
		if err != nil {
			return added, err
		}
		added = append(added, key)
		patients = ix.Keys("Patient")
	}
	encounters := ix.Keys("Encounter")

	for i := 0; i < n; i++ {
		subjectRef := patients[i%len(patients)].Ref()
		encounterRef := ""
		if len(encounters) > 0 {
			encounterRef = encounters[i%len(encounters)].Ref()
		}
		key, err := ix.Add(g.Observation(subjectRef, encounterRef))
		if err != nil {
			return added, err
		}
		added = append(added, key)
	}
	return added, nil
}
