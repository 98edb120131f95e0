package compose

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bundleforge/bundleforge/internal/platform/fhir"
)

// CheckBundle runs the structural checks over an assembled bundle: every
// entry identifiable, exactly one Composition, a resolvable subject,
// resolvable section entry references, and resolvable identity references in
// every embedded resource. Checks accumulate issues and never abort; the
// caller decides what severity means.
func CheckBundle(b *fhir.Bundle, identityType string) []fhir.Issue {
	var issues []fhir.Issue

	present := make(map[string]bool, len(b.Entry))
	for i, e := range b.Entry {
		if e.FullURL != "" {
			present[e.FullURL] = true
			continue
		}
		if key, ok := fhir.KeyOf(e.Resource); ok {
			present[key.Ref()] = true
			continue
		}
		issues = append(issues, fhir.Issue{
			Severity:    fhir.SeverityError,
			Code:        fhir.IssueTypeStructure,
			Location:    fmt.Sprintf("Bundle.entry[%d]", i),
			Diagnostics: "entry has neither a fullUrl nor a resource identity",
		})
	}

	comp, issue := soleComposition(b)
	if issue != nil {
		issues = append(issues, *issue)
	}
	if comp != nil {
		issues = append(issues, checkSubject(comp, present, identityType)...)
		issues = append(issues, checkSectionEntries(comp, present)...)
	}
	issues = append(issues, checkIdentityRefs(b, present, identityType)...)

	return issues
}

// soleComposition returns the bundle's Composition and a non-nil issue when
// the bundle does not hold exactly one.
func soleComposition(b *fhir.Bundle) (map[string]interface{}, *fhir.Issue) {
	var comp map[string]interface{}
	count := 0
	for _, e := range b.Entry {
		if rt, _ := e.Resource["resourceType"].(string); rt == "Composition" {
			count++
			if comp == nil {
				comp = e.Resource
			}
		}
	}

	switch {
	case count == 0:
		return nil, &fhir.Issue{
			Severity:    fhir.SeverityError,
			Code:        fhir.IssueTypeRequired,
			Location:    "Bundle",
			Diagnostics: "bundle contains no Composition",
		}
	case count > 1:
		return comp, &fhir.Issue{
			Severity:    fhir.SeverityError,
			Code:        fhir.IssueTypeStructure,
			Location:    "Bundle",
			Diagnostics: fmt.Sprintf("bundle contains %d Compositions, want exactly 1", count),
		}
	}
	return comp, nil
}

func checkSubject(comp map[string]interface{}, present map[string]bool, identityType string) []fhir.Issue {
	subj, _ := comp["subject"].(map[string]interface{})
	ref, _ := subj["reference"].(string)
	if ref == "" {
		return []fhir.Issue{{
			Severity:    fhir.SeverityError,
			Code:        fhir.IssueTypeRequired,
			Location:    "Composition.subject",
			Diagnostics: "subject reference is missing or empty",
		}}
	}
	if !present[ref] {
		return []fhir.Issue{{
			Severity:    fhir.SeverityError,
			Code:        fhir.IssueTypeNotFound,
			Location:    "Composition.subject",
			Diagnostics: fmt.Sprintf("subject %s does not resolve to a bundle entry", ref),
		}}
	}
	if key, ok := fhir.ParseRef(ref); ok && key.Type != identityType {
		return []fhir.Issue{{
			Severity:    fhir.SeverityWarning,
			Code:        fhir.IssueTypeValue,
			Location:    "Composition.subject",
			Diagnostics: fmt.Sprintf("subject %s is not a %s reference", ref, identityType),
		}}
	}
	return nil
}

func checkSectionEntries(comp map[string]interface{}, present map[string]bool) []fhir.Issue {
	var issues []fhir.Issue
	sections, _ := comp["section"].([]interface{})
	for i, s := range sections {
		sec, _ := s.(map[string]interface{})
		entries, _ := sec["entry"].([]interface{})
		for j, e := range entries {
			em, _ := e.(map[string]interface{})
			ref, _ := em["reference"].(string)
			loc := fmt.Sprintf("Composition.section[%d].entry[%d]", i, j)

			if ref == "" {
				issues = append(issues, fhir.Issue{
					Severity:    fhir.SeverityError,
					Code:        fhir.IssueTypeRequired,
					Location:    loc,
					Diagnostics: "entry reference is missing or empty",
				})
				continue
			}
			key, ok := fhir.MatchRef(ref)
			if !ok {
				issues = append(issues, fhir.Issue{
					Severity:    fhir.SeverityError,
					Code:        fhir.IssueTypeValue,
					Location:    loc,
					Diagnostics: fmt.Sprintf("entry reference %q does not parse as Type/id", ref),
				})
				continue
			}
			if !present[key.Ref()] {
				issues = append(issues, fhir.Issue{
					Severity:    fhir.SeverityError,
					Code:        fhir.IssueTypeNotFound,
					Location:    loc,
					Diagnostics: fmt.Sprintf("entry reference %s does not resolve to a bundle entry", key.Ref()),
				})
			}
		}
	}
	return issues
}

// checkIdentityRefs verifies that every identity-type reference embedded in
// an entry resolves within the bundle. Identity references follow the
// normalizer's shape: any string value starting with the identity prefix is
// taken whole. Composition entries are excluded; their identity reference is
// the subject, which has its own check.
func checkIdentityRefs(b *fhir.Bundle, present map[string]bool, identityType string) []fhir.Issue {
	prefix := identityType + "/"
	var issues []fhir.Issue
	for i, e := range b.Entry {
		if rt, _ := e.Resource["resourceType"].(string); rt == "Composition" {
			continue
		}
		for _, ref := range collectPrefixed(e.Resource, prefix) {
			if !present[ref] {
				issues = append(issues, fhir.Issue{
					Severity:    fhir.SeverityError,
					Code:        fhir.IssueTypeNotFound,
					Location:    fmt.Sprintf("Bundle.entry[%d]", i),
					Diagnostics: fmt.Sprintf("identity reference %s does not resolve to a bundle entry", ref),
				})
			}
		}
	}
	return issues
}

// collectPrefixed gathers the distinct prefixed string values under v,
// sorted for stable issue order.
func collectPrefixed(v interface{}, prefix string) []string {
	set := make(map[string]bool)
	collectPrefixedInto(v, prefix, set)
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func collectPrefixedInto(v interface{}, prefix string, set map[string]bool) {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, item := range val {
			collectPrefixedInto(item, prefix, set)
		}
	case []interface{}:
		for _, item := range val {
			collectPrefixedInto(item, prefix, set)
		}
	case string:
		if strings.HasPrefix(val, prefix) {
			set[val] = true
		}
	}
}
