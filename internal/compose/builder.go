package compose

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// Catalog defaults, matching the clinical-document shape the section
// templates were written for.
const (
	DefaultMinSections  = 3
	DefaultMaxSections  = 7
	DefaultMinEntries   = 1
	DefaultMaxEntries   = 5
	DefaultIdentityType = "Patient"
)

// ErrEmptyLibrary is returned when a build is attempted over an index holding
// no resources.
var ErrEmptyLibrary = errors.New("resource library is empty")

// Options configure a Builder. Zero values fall back to the defaults above;
// Seed zero draws a time-based seed.
type Options struct {
	MinSections  int
	MaxSections  int
	MinEntries   int
	MaxEntries   int
	IdentityType string
	Seed         int64

	// Templates overrides the built-in section catalog.
	Templates []SectionTemplate

	// StrictRefs restricts reference scanning to attributes named
	// "reference".
	StrictRefs bool

	// SkipPlaceholders disables patching dangling references with minimal
	// stand-in resources; they are then only reported.
	SkipPlaceholders bool
}

// Result is one assembled document bundle plus everything observed while
// assembling it. Issues carry the structural check findings; the build
// itself never fails on them.
type Result struct {
	Bundle *fhir.Bundle

	// Missing lists the dangling references found during closure, before
	// any placeholder patching.
	Missing []fhir.Key

	// Placeholders lists the minimal stand-ins inserted for dangling
	// references.
	Placeholders []fhir.Key

	Issues []fhir.Issue
}

// Builder assembles randomized document bundles over a shared read-only
// index. A Builder owns its rng and must not be used from more than one
// goroutine; concurrent callers each create their own.
type Builder struct {
	index     *library.Index
	scanner   fhir.Scanner
	templates []SectionTemplate
	opts      Options
	rng       *rand.Rand
}

// NewBuilder creates a builder over the index. The index is only ever read.
func NewBuilder(ix *library.Index, opts Options) *Builder {
	if opts.MinSections == 0 {
		opts.MinSections = DefaultMinSections
	}
	if opts.MaxSections == 0 {
		opts.MaxSections = DefaultMaxSections
	}
	if opts.MinEntries == 0 {
		opts.MinEntries = DefaultMinEntries
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.IdentityType == "" {
		opts.IdentityType = DefaultIdentityType
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	templates := opts.Templates
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}

	return &Builder{
		index:     ix,
		scanner:   fhir.Scanner{ReferenceFieldsOnly: opts.StrictRefs},
		templates: templates,
		opts:      opts,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Build assembles one document bundle: choose participants, draw sections,
// close over every reference, canonicalize identity references, patch
// dangling references, and run the structural checks. Only an empty library
// is a hard error.
func (b *Builder) Build() (*Result, error) {
	if b.index.Len() == 0 {
		return nil, ErrEmptyLibrary
	}

	now := time.Now()
	participants := ChooseParticipants(b.index, b.opts.IdentityType, b.rng)
	sections, order, claimed := b.buildSections()

	// A document needs at least one section entry. With every selection
	// empty, fall back to a single section holding one arbitrary resource.
	if len(sections) == 0 {
		key := b.index.AllKeys()[0]
		sections = append(sections, map[string]interface{}{
			"title": "Generated Section",
			"entry": []interface{}{
				map[string]interface{}{"reference": key.Ref()},
			},
		})
		order = append(order, key)
		claimed[key] = true
	}

	comp := b.newComposition(participants, sections, now)
	compFullID := fhir.FormatReference("Composition", comp["id"].(string))

	cl := NewClosure(b.index, &b.scanner, compFullID)
	if participants.Subject != nil {
		cl.Include(participants.Subject.Key)
	}
	if participants.Author != nil {
		cl.Include(participants.Author.Key)
	}
	if participants.Encounter != nil {
		cl.Include(participants.Encounter.Key)
	}
	for _, key := range order {
		cl.Include(key)
	}

	canonical := participants.SubjectRef()
	b.normalize(comp, cl.Entries(), canonical)

	missing := cl.Missing()
	var placeholders []fhir.Key
	if !b.opts.SkipPlaceholders {
		for _, key := range missing {
			// Identity references were just canonicalized; nothing
			// dangles on them once a subject exists.
			if canonical != "" && key.Type == b.opts.IdentityType {
				continue
			}
			cl.Add(key, map[string]interface{}{
				"resourceType": key.Type,
				"id":           key.ID,
			})
			placeholders = append(placeholders, key)
		}
		// Patched entries joined after the first rewrite; they go through
		// the same pass.
		if len(placeholders) > 0 {
			b.normalize(comp, cl.Entries(), canonical)
		}
	}

	bundle := fhir.NewDocumentBundle(now)
	bundle.Entry = make([]fhir.BundleEntry, 0, 1+len(cl.Entries()))
	bundle.Entry = append(bundle.Entry, fhir.BundleEntry{FullURL: compFullID, Resource: comp})
	bundle.Entry = append(bundle.Entry, cl.Entries()...)

	return &Result{
		Bundle:       bundle,
		Missing:      missing,
		Placeholders: placeholders,
		Issues:       CheckBundle(bundle, b.opts.IdentityType),
	}, nil
}

// buildSections draws the section subset and fills each section with
// non-repeating picks. Sections whose pool came up empty are dropped. The
// returned order preserves document order for the closure seeds; claimed is
// the same set keyed for exclusion.
func (b *Builder) buildSections() ([]interface{}, []fhir.Key, map[fhir.Key]bool) {
	claimed := make(map[fhir.Key]bool)
	var order []fhir.Key
	var sections []interface{}

	n := b.randRange(b.opts.MinSections, b.opts.MaxSections)
	if n > len(b.templates) {
		n = len(b.templates)
	}

	for _, ti := range b.rng.Perm(len(b.templates))[:n] {
		tmpl := b.templates[ti]
		count := b.randRange(b.opts.MinEntries, b.opts.MaxEntries)

		picks := Select(tmpl.AllowedTypes, b.index, count, claimed, b.rng)
		if len(picks) == 0 {
			continue
		}

		entries := make([]interface{}, 0, len(picks))
		for _, p := range picks {
			entries = append(entries, map[string]interface{}{"reference": p.Ref})
			order = append(order, p.Key)
			claimed[p.Key] = true
		}
		sections = append(sections, map[string]interface{}{
			"title": tmpl.Title,
			"entry": entries,
		})
	}
	return sections, order, claimed
}

// newComposition assembles the root Composition resource.
func (b *Builder) newComposition(p Participants, sections []interface{}, now time.Time) map[string]interface{} {
	stamp := now.UTC().Format(time.RFC3339)
	comp := map[string]interface{}{
		"resourceType": "Composition",
		"id":           "generated-comp-" + uuid.NewString(),
		"status":       "final",
		"type": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system":  "http://loinc.org",
					"code":    "11506-3",
					"display": "Clinical Document",
				},
			},
		},
		"title":   fmt.Sprintf("Randomized Composition Document (%s)", stamp),
		"date":    stamp,
		"section": sections,
	}

	if p.Author != nil {
		comp["author"] = []interface{}{
			map[string]interface{}{"reference": p.Author.Ref},
		}
	} else {
		comp["author"] = []interface{}{
			map[string]interface{}{"display": "AutoGenerator"},
		}
	}
	if p.Subject != nil {
		comp["subject"] = map[string]interface{}{"reference": p.Subject.Ref}
	}
	if p.Encounter != nil {
		comp["encounter"] = map[string]interface{}{"reference": p.Encounter.Ref}
	}
	return comp
}

// normalize rewrites identity references across the composition and every
// closure entry. No-op without a canonical subject.
func (b *Builder) normalize(comp map[string]interface{}, entries []fhir.BundleEntry, canonical string) {
	if canonical == "" {
		return
	}
	fhir.NormalizeIdentity(comp, b.opts.IdentityType, canonical)
	for _, e := range entries {
		fhir.NormalizeIdentity(e.Resource, b.opts.IdentityType, canonical)
	}
}

// randRange draws uniformly from the closed range [lo, hi].
func (b *Builder) randRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + b.rng.Intn(hi-lo+1)
}
