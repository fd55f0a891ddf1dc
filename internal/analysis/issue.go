package analysis

import (
	"fmt"
	"strings"
)

// Severity classifies an issue. Any Error blocks training; Warnings are
// surfaced for visibility only.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Issue is one diagnostic produced by an analysis run. LayerIndices refer to
// positions in the analyzed layer slice; DisplayNames carry the resolved
// layer names in the same order. ID is a stable "Category:Rule" string.
type Issue struct {
	LayerIndices []int
	DisplayNames []string
	Severity     Severity
	Category     string
	ID           string
	Message      string
}

func (i Issue) String() string {
	if len(i.DisplayNames) == 0 {
		return fmt.Sprintf("%s %s: %s", i.Severity, i.ID, i.Message)
	}
	return fmt.Sprintf("%s %s [%s]: %s", i.Severity, i.ID, strings.Join(i.DisplayNames, ", "), i.Message)
}

// Result aggregates the issues of one analysis run.
type Result struct {
	Issues []Issue
}

// OK reports whether training can proceed: no Error-severity issues exist.
func (r *Result) OK() bool {
	for _, issue := range r.Issues {
		if issue.Severity == Error {
			return false
		}
	}
	return true
}

// Errors returns the Error-severity issues.
func (r *Result) Errors() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == Error {
			out = append(out, issue)
		}
	}
	return out
}

// Warnings returns the Warning-severity issues.
func (r *Result) Warnings() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == Warning {
			out = append(out, issue)
		}
	}
	return out
}
