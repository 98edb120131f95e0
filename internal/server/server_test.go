package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bundleforge/bundleforge/internal/compose"
	"github.com/bundleforge/bundleforge/internal/config"
	"github.com/bundleforge/bundleforge/internal/library"
	"github.com/bundleforge/bundleforge/internal/platform/fhir"
	"github.com/bundleforge/bundleforge/internal/platform/middleware"
)

func testConfig() config.Config {
	return config.Config{
		Port:         "0",
		Env:          "test",
		MinSections:  3,
		MaxSections:  7,
		MinEntries:   1,
		MaxEntries:   5,
		IdentityType: "Patient",
		BundleCount:  1,
		Placeholders: true,
	}
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
		"name": []interface{}{
			map[string]interface{}{"family": "Santoso"},
		},
	}
}

func testEncounter(id, subjectRef string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Encounter",
		"id":           id,
		"status":       "finished",
		"subject":      map[string]interface{}{"reference": subjectRef},
	}
}

func testObservation(id, subjectRef string) map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Observation",
		"id":           id,
		"status":       "final",
		"subject":      map[string]interface{}{"reference": subjectRef},
	}
}

func testIndex(t *testing.T, resources ...map[string]interface{}) *library.Index {
	t.Helper()
	ix := library.NewIndex()
	for _, r := range resources {
		if _, err := ix.Add(r); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	return ix
}

func clinicalIndex(t *testing.T) *library.Index {
	t.Helper()
	return testIndex(t,
		testPatient("p1"),
		testPractitioner("d1"),
		testEncounter("e1", "Patient/p1"),
		testObservation("obs-1", "Patient/p1"),
		testObservation("obs-2", "Patient/p1"),
		testObservation("obs-3", "Patient/p1"),
		testObservation("obs-4", "Patient/p1"),
		testObservation("obs-5", "Patient/p1"),
	)
}

func newTestRouter(t *testing.T, cfg config.Config, ix *library.Index) *echo.Echo {
	t.Helper()
	return New(cfg, ix, nil, nil, zerolog.Nop()).Router()
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBundle(t *testing.T, body []byte) *fhir.Bundle {
	t.Helper()
	var bundle fhir.Bundle
	if err := json.Unmarshal(body, &bundle); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	return &bundle
}

func compositionSections(t *testing.T, bundle *fhir.Bundle) []interface{} {
	t.Helper()
	comp := bundle.Composition()
	if comp == nil {
		t.Fatal("first bundle entry is not a Composition")
	}
	sections, _ := comp["section"].([]interface{})
	return sections
}

func TestHealthz(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if got, _ := body["resources"].(float64); int(got) != 8 {
		t.Errorf("resources = %v, want 8", body["resources"])
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id on the response")
	}
}

func TestCreateBundle_DocumentShape(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodPost, "/bundles", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	bundle := decodeBundle(t, rec.Body.Bytes())
	if bundle.ResourceType != "Bundle" || bundle.Type != "document" {
		t.Errorf("got %s/%s, want Bundle/document", bundle.ResourceType, bundle.Type)
	}
	if bundle.Composition() == nil {
		t.Error("first entry is not a Composition")
	}
	if len(bundle.Entry) < 2 {
		t.Errorf("bundle has %d entries, want at least composition plus one", len(bundle.Entry))
	}
	if got := rec.Header().Get(IssueCountHeader); got != "0" {
		t.Errorf("%s = %q, want 0", IssueCountHeader, got)
	}
}

func TestCreateBundle_SeedReproduces(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	first := doRequest(e, http.MethodPost, "/bundles", `{"seed": 7}`)
	second := doRequest(e, http.MethodPost, "/bundles", `{"seed": 7}`)

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d/%d, want 200", first.Code, second.Code)
	}
	b1 := decodeBundle(t, first.Body.Bytes())
	b2 := decodeBundle(t, second.Body.Bytes())

	titles := func(bundle *fhir.Bundle) []string {
		var out []string
		for _, raw := range compositionSections(t, bundle) {
			section, _ := raw.(map[string]interface{})
			title, _ := section["title"].(string)
			out = append(out, title)
		}
		return out
	}
	t1, t2 := titles(b1), titles(b2)
	if len(t1) == 0 || len(t1) != len(t2) {
		t.Fatalf("section titles differ in length: %v vs %v", t1, t2)
	}
	for i := range t1 {
		if t1[i] != t2[i] {
			t.Errorf("section %d title %q != %q", i, t1[i], t2[i])
		}
	}

	// The composition id is minted per build, so compare from entry 1 on.
	if len(b1.Entry) != len(b2.Entry) {
		t.Fatalf("entry counts differ: %d vs %d", len(b1.Entry), len(b2.Entry))
	}
	for i := 1; i < len(b1.Entry); i++ {
		if b1.Entry[i].FullURL != b2.Entry[i].FullURL {
			t.Errorf("entry %d fullUrl %q != %q", i, b1.Entry[i].FullURL, b2.Entry[i].FullURL)
		}
	}
}

func TestCreateBundle_OverridesApply(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	body := `{"minSections": 1, "maxSections": 1, "minEntries": 1, "maxEntries": 1}`
	rec := doRequest(e, http.MethodPost, "/bundles", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	bundle := decodeBundle(t, rec.Body.Bytes())
	sections := compositionSections(t, bundle)
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	section, _ := sections[0].(map[string]interface{})
	entries, _ := section["entry"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("got %d section entries, want 1", len(entries))
	}
}

func TestCreateBundle_RejectsInvalidRanges(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	cases := []struct {
		name string
		body string
	}{
		{"inverted sections", `{"minSections": 5, "maxSections": 2}`},
		{"zero sections", `{"minSections": 0, "maxSections": 0}`},
		{"inverted entries", `{"minEntries": 4, "maxEntries": 2}`},
		{"negative seed", `{"seed": -3}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/bundles", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			var outcome map[string]interface{}
			if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if outcome["resourceType"] != "OperationOutcome" {
				t.Errorf("body resourceType = %v, want OperationOutcome", outcome["resourceType"])
			}
		})
	}
}

func TestCreateBundle_RejectsMalformedBody(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodPost, "/bundles", `{"seed": `)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestCreateBundle_EmptyLibrary(t *testing.T) {
	e := newTestRouter(t, testConfig(), library.NewIndex())

	rec := doRequest(e, http.MethodPost, "/bundles", "")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var outcome map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &outcome); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if outcome["resourceType"] != "OperationOutcome" {
		t.Errorf("body resourceType = %v, want OperationOutcome", outcome["resourceType"])
	}
}

func TestLibrarySummary(t *testing.T) {
	warnings := []library.Warning{{Source: "composition_bad.json", Reason: "not valid JSON"}}
	e := New(testConfig(), clinicalIndex(t), nil, warnings, zerolog.Nop()).Router()

	rec := doRequest(e, http.MethodGet, "/library/summary", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var summary librarySummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if summary.Total != 8 {
		t.Errorf("total = %d, want 8", summary.Total)
	}
	if summary.Types["Observation"] != 5 {
		t.Errorf("Observation count = %d, want 5", summary.Types["Observation"])
	}
	if summary.Types["Patient"] != 1 {
		t.Errorf("Patient count = %d, want 1", summary.Types["Patient"])
	}
	if len(summary.Warnings) != 1 || summary.Warnings[0].Source != "composition_bad.json" {
		t.Errorf("warnings = %+v, want the loader warning surfaced", summary.Warnings)
	}
}

func TestLibraryResources_Paginated(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodGet, "/library/resources/Observation?_count=2&_offset=2", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var page struct {
		Data    []string `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
		Links   []struct {
			Relation string `json:"relation"`
			URL      string `json:"url"`
		} `json:"links"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if page.Total != 5 {
		t.Errorf("total = %d, want 5", page.Total)
	}
	if len(page.Data) != 2 {
		t.Fatalf("got %d refs, want 2", len(page.Data))
	}
	// Insertion order within a type is load order.
	if page.Data[0] != "Observation/obs-3" || page.Data[1] != "Observation/obs-4" {
		t.Errorf("page = %v, want [Observation/obs-3 Observation/obs-4]", page.Data)
	}
	if !page.HasMore {
		t.Error("expected has_more with one ref left")
	}
	relations := make(map[string]bool)
	for _, l := range page.Links {
		relations[l.Relation] = true
	}
	for _, want := range []string{"self", "next", "previous"} {
		if !relations[want] {
			t.Errorf("missing %q link", want)
		}
	}
}

func TestLibraryResources_UnknownType(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodGet, "/library/resources/Device", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListTemplates(t *testing.T) {
	e := newTestRouter(t, testConfig(), clinicalIndex(t))

	rec := doRequest(e, http.MethodGet, "/templates", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var templates []compose.SectionTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(templates) != len(compose.DefaultTemplates()) {
		t.Errorf("got %d templates, want the default catalog (%d)", len(templates), len(compose.DefaultTemplates()))
	}
	found := false
	for _, tpl := range templates {
		if tpl.Title == "Tanda Vital" {
			found = true
			if len(tpl.AllowedTypes) == 0 {
				t.Error("Tanda Vital template has no allowed types")
			}
		}
	}
	if !found {
		t.Error("default catalog is missing the vital-signs section")
	}
}

func TestListTemplates_CustomCatalog(t *testing.T) {
	custom := []compose.SectionTemplate{
		{Title: "Ringkasan", AllowedTypes: []string{"Observation"}},
	}
	e := New(testConfig(), clinicalIndex(t), custom, nil, zerolog.Nop()).Router()

	rec := doRequest(e, http.MethodGet, "/templates", "")

	var templates []compose.SectionTemplate
	if err := json.Unmarshal(rec.Body.Bytes(), &templates); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(templates) != 1 || templates[0].Title != "Ringkasan" {
		t.Errorf("templates = %+v, want the custom catalog", templates)
	}
}
