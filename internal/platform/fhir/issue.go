package fhir

// Severity grades a validation issue.
type Severity string

const (
	SeverityError       Severity = "error"
	SeverityWarning     Severity = "warning"
	SeverityInformation Severity = "information"
	SeverityFatal       Severity = "fatal"
)

// IssueType categorizes a validation issue using FHIR issue-type codes.
type IssueType string

const (
	IssueTypeStructure IssueType = "structure"
	IssueTypeRequired  IssueType = "required"
	IssueTypeValue     IssueType = "value"
	IssueTypeNotFound  IssueType = "not-found"
)

// Issue is a single structural problem found in an assembled bundle. Checks
// accumulate issues; they never abort on the first finding.
type Issue struct {
	Severity    Severity  `json:"severity"`
	Code        IssueType `json:"code"`
	Location    string    `json:"location,omitempty"`
	Diagnostics string    `json:"diagnostics"`
}

// HasErrors reports whether any issue is of error or fatal severity.
func HasErrors(issues []Issue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityError || issue.Severity == SeverityFatal {
			return true
		}
	}
	return false
}

// NewOperationOutcome renders issues as a FHIR OperationOutcome body. An
// empty issue list yields a single informational "all checks passed" issue so
// the outcome is never issueless.
func NewOperationOutcome(issues []Issue) map[string]interface{} {
	if len(issues) == 0 {
		issues = []Issue{{
			Severity:    SeverityInformation,
			Code:        IssueTypeStructure,
			Diagnostics: "All checks passed",
		}}
	}

	issueList := make([]map[string]interface{}, 0, len(issues))
	for _, issue := range issues {
		entry := map[string]interface{}{
			"severity":    string(issue.Severity),
			"code":        string(issue.Code),
			"diagnostics": issue.Diagnostics,
		}
		if issue.Location != "" {
			entry["location"] = []string{issue.Location}
		}
		issueList = append(issueList, entry)
	}

	return map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue":        issueList,
	}
}

// ErrorOutcome renders a single error as an OperationOutcome body.
func ErrorOutcome(code IssueType, diagnostics string) map[string]interface{} {
	return NewOperationOutcome([]Issue{{
		Severity:    SeverityError,
		Code:        code,
		Diagnostics: diagnostics,
	}})
}
