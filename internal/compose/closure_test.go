package compose

import (
	"testing"

	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

func buildIndex(t *testing.T, resources ...map[string]interface{}) *library.Index {
	t.Helper()
	ix := library.NewIndex()
	for _, r := range resources {
		if _, err := ix.Add(r); err != nil {
			t.Fatalf("add resource: %v", err)
		}
	}
	return ix
}

func testPatient(id string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           id,
		"name": []interface{}{
			map[string]interface{}{"family": "Wijaya"},
		},
	}
}

func testPractitioner(id string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Practitioner",
		"id":           id,
	}
}

func testEncounter(id, subjectRef string) map[string]interface{} {
	enc := map[string]interface{}{
		"resourceType": "Encounter",
		"id":           id,
		"status":       "finished",
	}
	if subjectRef != "" {
		enc["subject"] = map[string]interface{}{"reference": subjectRef}
	}
	return enc
}

func testObservation(id, subjectRef, encounterRef string) map[string]interface{} {
	obs := map[string]interface{}{
		"resourceType": "Observation",
		"id":           id,
		"status":       "final",
	}
	if subjectRef != "" {
		obs["subject"] = map[string]interface{}{"reference": subjectRef}
	}
	if encounterRef != "" {
		obs["encounter"] = map[string]interface{}{"reference": encounterRef}
	}
	return obs
}

func entryIDs(entries []fhir.BundleEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.FullURL)
	}
	return ids
}

func TestClosure_TransitiveInclude(t *testing.T) {
	ix := buildIndex(t,
		testPatient("p1"),
		testEncounter("e1", "Patient/p1"),
		testObservation("o1", "Patient/p1", "Encounter/e1"),
	)
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc, "Composition/root")
	cl.Include(fhir.Key{Type: "Observation", ID: "o1"})

	ids := entryIDs(cl.Entries())
	if len(ids) != 3 {
		t.Fatalf("expected 3 entries, got %v", ids)
	}
	seen := map[string]int{}
	for _, id := range ids {
		seen[id]++
	}
	for _, want := range []string{"Observation/o1", "Encounter/e1", "Patient/p1"} {
		if seen[want] != 1 {
			t.Errorf("expected %s exactly once, got %d", want, seen[want])
		}
	}
	if len(cl.Missing()) != 0 {
		t.Errorf("missing = %v", cl.Missing())
	}
}

func TestClosure_SeedsAlreadyIncludedAreNoOps(t *testing.T) {
	ix := buildIndex(t,
		testPatient("p1"),
		testEncounter("e1", "Patient/p1"),
		testObservation("o1", "Patient/p1", "Encounter/e1"),
	)
	var sc fhir.Scanner

	// Seeding in any order yields each resource exactly once.
	cl := NewClosure(ix, &sc, "Composition/root")
	cl.Include(fhir.Key{Type: "Patient", ID: "p1"})
	cl.Include(fhir.Key{Type: "Encounter", ID: "e1"})
	cl.Include(fhir.Key{Type: "Observation", ID: "o1"})

	if got := len(cl.Entries()); got != 3 {
		t.Fatalf("expected 3 entries, got %d: %v", got, entryIDs(cl.Entries()))
	}
}

func TestClosure_CycleTerminates(t *testing.T) {
	condition := map[string]interface{}{
		"resourceType": "Condition",
		"id":           "c1",
		"evidence": []interface{}{
			map[string]interface{}{
				"detail": []interface{}{
					map[string]interface{}{"reference": "Observation/oA"},
				},
			},
		},
	}
	observation := map[string]interface{}{
		"resourceType": "Observation",
		"id":           "oA",
		"derivedFrom": []interface{}{
			map[string]interface{}{"reference": "Condition/c1"},
		},
	}
	ix := buildIndex(t, condition, observation)
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc, "Composition/root")
	cl.Include(fhir.Key{Type: "Condition", ID: "c1"})

	ids := entryIDs(cl.Entries())
	if len(ids) != 2 {
		t.Fatalf("cycle must yield each resource once, got %v", ids)
	}
}

func TestClosure_RecordsMissing(t *testing.T) {
	obs := testObservation("o1", "", "")
	obs["basedOn"] = []interface{}{
		map[string]interface{}{"reference": "ServiceRequest/sr-9"},
	}
	ix := buildIndex(t, obs)
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc)
	cl.Include(fhir.Key{Type: "Observation", ID: "o1"})

	missing := cl.Missing()
	if len(missing) != 1 || missing[0] != (fhir.Key{Type: "ServiceRequest", ID: "sr-9"}) {
		t.Fatalf("missing = %v", missing)
	}
	for _, id := range entryIDs(cl.Entries()) {
		if id == "ServiceRequest/sr-9" {
			t.Error("missing resources must not be materialized")
		}
	}
}

func TestClosure_SeedVisitedExcluded(t *testing.T) {
	ix := buildIndex(t, testPatient("p1"))
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc, "Patient/p1")
	cl.Include(fhir.Key{Type: "Patient", ID: "p1"})

	if got := len(cl.Entries()); got != 0 {
		t.Errorf("pre-seeded identifiers must not re-enter, got %v", entryIDs(cl.Entries()))
	}
}

func TestClosure_DeepCopiesBodies(t *testing.T) {
	ix := buildIndex(t, testObservation("o1", "Patient/p1", ""))
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc)
	cl.Include(fhir.Key{Type: "Observation", ID: "o1"})

	entry := cl.Entries()[0]
	entry.Resource["subject"].(map[string]interface{})["reference"] = "Patient/rewritten"

	stored, _ := ix.Get(fhir.Key{Type: "Observation", ID: "o1"})
	if got := stored["subject"].(map[string]interface{})["reference"]; got != "Patient/p1" {
		t.Errorf("mutating a bundle entry leaked into the index: %v", got)
	}
}

func TestClosure_AddRespectsVisitedSet(t *testing.T) {
	ix := buildIndex(t, testPatient("p1"))
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc)
	key := fhir.Key{Type: "ServiceRequest", ID: "sr-9"}
	placeholder := map[string]interface{}{"resourceType": "ServiceRequest", "id": "sr-9"}

	cl.Add(key, placeholder)
	cl.Add(key, placeholder)

	if got := len(cl.Entries()); got != 1 {
		t.Fatalf("expected one entry, got %v", entryIDs(cl.Entries()))
	}
}

func TestClosure_AddRecursesIntoReferences(t *testing.T) {
	ix := buildIndex(t, testPatient("p1"))
	var sc fhir.Scanner

	cl := NewClosure(ix, &sc)
	cl.Add(fhir.Key{Type: "CarePlan", ID: "cp-1"}, map[string]interface{}{
		"resourceType": "CarePlan",
		"id":           "cp-1",
		"subject":      map[string]interface{}{"reference": "Patient/p1"},
	})

	ids := entryIDs(cl.Entries())
	if len(ids) != 2 {
		t.Fatalf("expected inserted resource plus its referenced patient, got %v", ids)
	}
	if ids[1] != "Patient/p1" {
		t.Errorf("expected Patient/p1 pulled by recursion, got %v", ids)
	}
}
