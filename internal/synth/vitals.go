// Package synth generates synthetic vital-sign resources for enriching thin
// resource libraries. Output is reproducible for a fixed seed and shaped like
// the real thing: LOINC-coded final Observations with plausible quantities.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ValueTemplate bounds the quantity drawn for one vital sign.
type ValueTemplate struct {
	Code     string
	Display  string
	Unit     string
	Low      float64
	High     float64
	Decimals int
}

var vitalSigns = []ValueTemplate{
	{"8867-4", "Heart rate", "beats/minute", 50, 110, 0},
	{"8310-5", "Body temperature", "Cel", 36.0, 38.5, 1},
	{"8480-6", "Systolic blood pressure", "mm[Hg]", 90, 180, 0},
	{"8462-4", "Diastolic blood pressure", "mm[Hg]", 50, 110, 0},
	{"2708-6", "Oxygen saturation", "%", 92, 100, 0},
	{"9279-1", "Respiratory rate", "breaths/minute", 10, 25, 0},
	{"29463-7", "Body weight", "kg", 40, 150, 1},
	{"8302-2", "Body height", "cm", 140, 200, 0},
	{"2339-0", "Glucose [Mass/volume] in Blood", "mg/dL", 60, 250, 0},
}

// VitalSigns returns the value-template table. Callers must not modify it.
func VitalSigns() []ValueTemplate {
	return vitalSigns
}

var (
	givenNames = []string{
		"Budi", "Siti", "Agus", "Dewi", "Rina", "Joko", "Sri", "Andi",
		"Fitri", "Hendra", "Lina", "Rudi",
	}
	familyNames = []string{
		"Santoso", "Wijaya", "Saputra", "Lestari", "Hidayat", "Pratama",
		"Utami", "Nugroho",
	}
)

// Generator produces synthetic resources. It owns its rng and is not safe
// for concurrent use.
type Generator struct {
	rng     *rand.Rand
	counter uint64
}

// NewGenerator returns a generator seeded for reproducibility. If seed is 0
// a time-based seed is chosen.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

func (g *Generator) nextID(prefix string) string {
	g.counter++
	return fmt.Sprintf("%s-%08x-%04x", prefix, g.rng.Uint32(), g.counter)
}

func (g *Generator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

// value draws uniformly from the template range, rounds to the template's
// decimals, and clamps the rounded value back into [Low, High].
func (g *Generator) value(t ValueTemplate) float64 {
	v := t.Low + g.rng.Float64()*(t.High-t.Low)
	scale := math.Pow(10, float64(t.Decimals))
	v = math.Round(v*scale) / scale
	if v < t.Low {
		v = t.Low
	}
	if v > t.High {
		v = t.High
	}
	return v
}

func (g *Generator) randomDate(minYear, maxYear int) string {
	y := minYear + g.rng.Intn(maxYear-minYear+1)
	m := 1 + g.rng.Intn(12)
	d := 1 + g.rng.Intn(28) // safe for all months
	return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
}

// Observation produces a final-status vital-sign Observation. Empty
// subjectRef or encounterRef omits the corresponding element.
func (g *Generator) Observation(subjectRef, encounterRef string) map[string]interface{} {
	t := vitalSigns[g.rng.Intn(len(vitalSigns))]
	obs := map[string]interface{}{
		"resourceType": "Observation",
		"id":           g.nextID("obs"),
		"status":       "final",
		"code": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system":  "http://loinc.org",
					"code":    t.Code,
					"display": t.Display,
				},
			},
		},
		"effectiveDateTime": g.randomDate(2020, 2025) + "T10:00:00Z",
		"valueQuantity": map[string]interface{}{
			"value":  g.value(t),
			"unit":   t.Unit,
			"system": "http://unitsofmeasure.org",
			"code":   t.Unit,
		},
	}
	if subjectRef != "" {
		obs["subject"] = map[string]interface{}{"reference": subjectRef}
	}
	if encounterRef != "" {
		obs["encounter"] = map[string]interface{}{"reference": encounterRef}
	}
	return obs
}

// Patient produces a minimal synthetic Patient, used to back a vital-sign
// batch when the library holds no identity resource.
func (g *Generator) Patient() map[string]interface{} {
	given := g.pick(givenNames)
	gender := "female"
	if g.rng.Intn(2) == 0 {
		gender = "male"
	}
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           g.nextID("pat"),
		"active":       true,
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": g.pick(familyNames),
				"given":  []interface{}{given},
			},
		},
		"gender":    gender,
		"birthDate": g.randomDate(1940, 2010),
	}
}
