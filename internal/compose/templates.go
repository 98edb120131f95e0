// Package compose assembles randomized FHIR Composition document bundles
// from an indexed resource library.
package compose

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SectionTemplate pairs a section title with the resource types its entries
// may draw from.
type SectionTemplate struct {
	Title        string   `yaml:"title" json:"title"`
	AllowedTypes []string `yaml:"allowedTypes" json:"allowedTypes"`
}

// DefaultTemplates returns the built-in clinical section catalog.
func DefaultTemplates() []SectionTemplate {
	return []SectionTemplate{
		{Title: "Episode Perawatan", AllowedTypes: []string{"EpisodeOfCare", "Encounter", "Condition"}},
		{Title: "Anamnesis", AllowedTypes: []string{"Condition", "QuestionnaireResponse", "FamilyMemberHistory", "AllergyIntolerance", "MedicationStatement"}},
		{Title: "Pemeriksaan Fisik", AllowedTypes: []string{"Observation"}},
		{Title: "Tanda Vital", AllowedTypes: []string{"Observation"}},
		{Title: "Hasil Pemeriksaan Penunjang", AllowedTypes: []string{"Observation", "DiagnosticReport", "Specimen", "Procedure"}},
		{Title: "Pemeriksaan Fungsional", AllowedTypes: []string{"Observation", "ClinicalImpression"}},
		{Title: "Diagnosis", AllowedTypes: []string{"Condition", "ClinicalImpression"}},
		{Title: "Tindakan/Prosedur Medis", AllowedTypes: []string{"Procedure", "ActivityDefinition"}},
		{Title: "Obat", AllowedTypes: []string{"MedicationRequest", "MedicationDispense", "MedicationAdministration", "MedicationStatement"}},
		{Title: "Rencana Tindak Lanjut", AllowedTypes: []string{"CarePlan", "ServiceRequest"}},
		{Title: "Perjalanan Kunjungan Pasien", AllowedTypes: []string{"Observation", "Procedure", "Encounter"}},
	}
}

// LoadTemplates reads a catalog override from a YAML file. The file holds a
// list of {title, allowedTypes} entries.
func LoadTemplates(path string) ([]SectionTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file: %w", err)
	}
	var templates []SectionTemplate
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("parse templates file: %w", err)
	}
	if err := ValidateTemplates(templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// ValidateTemplates rejects catalogs that would break section sampling:
// empty catalogs, blank or duplicate titles (the catalog is sampled without
// replacement, so titles double as identities), and templates with no
// allowed types.
func ValidateTemplates(templates []SectionTemplate) error {
	if len(templates) == 0 {
		return errors.New("template catalog is empty")
	}
	seen := make(map[string]bool, len(templates))
	for i, tmpl := range templates {
		if tmpl.Title == "" {
			return fmt.Errorf("template %d: title is empty", i)
		}
		if seen[tmpl.Title] {
			return fmt.Errorf("template %d: duplicate title %q", i, tmpl.Title)
		}
		seen[tmpl.Title] = true

		if len(tmpl.AllowedTypes) == 0 {
			return fmt.Errorf("template %q: no allowed types", tmpl.Title)
		}
		for _, rt := range tmpl.AllowedTypes {
			if rt == "" {
				return fmt.Errorf("template %q: empty allowed type", tmpl.Title)
			}
		}
	}
	return nil
}
