package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is a single config problem located by a dotted JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidatePipeline checks p (after defaults are applied) and returns every
// problem found. Callers treat any SeverityError issue as fatal.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if err := validate.Struct(p); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return []Issue{{Severity: SeverityError, Path: "", Message: err.Error()}}
		}
		for _, fe := range ves {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     issuePath(fe.Namespace()),
				Message:  describe(fe),
			})
		}
	}

	if p.Source.Kind == "file" && p.Source.Format == "" && p.Source.Path != "" {
		if _, ok := FormatFromPath(p.Source.Path); !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     "source.format",
				Message:  fmt.Sprintf("cannot infer format from %q; assuming csv", filepath.Ext(p.Source.Path)),
			})
		}
	}

	stages := len(p.Funnel.Stages)
	if stages == 0 {
		stages = 5
	}
	if n := len(p.Chart.Colors); n > 0 && n < stages {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "chart.colors",
			Message:  fmt.Sprintf("%d colors for %d stages; colors will repeat", n, stages),
		})
	}

	return issues
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// FormatFromPath infers a file format from its extension.
func FormatFromPath(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "csv", true
	case ".tsv", ".tab":
		return "tsv", true
	case ".json":
		return "json", true
	case ".jsonl", ".ndjson":
		return "jsonl", true
	case ".xlsx":
		return "xlsx", true
	default:
		return "csv", false
	}
}

// issuePath turns "Pipeline.source.path" into "source.path".
func issuePath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_unless":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "unique":
		return "must not contain duplicates"
	case "hexcolor":
		return fmt.Sprintf("%q is not a hex color", fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
