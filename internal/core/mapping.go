package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Ignore is the mapping target for a header that should not be imported.
const Ignore = "ignore"

// TemplateMatchThreshold is the minimum header overlap for a saved mapping
// template to be used in suggestions.
const TemplateMatchThreshold = 0.7

// ColumnMapping maps an uploaded header to a field of the target table or
// to Ignore.
type ColumnMapping map[string]string

// Targets returns the non-ignored mappings as header -> field.
func (m ColumnMapping) Targets() map[string]string {
	out := make(map[string]string, len(m))
	for h, f := range m {
		if f != "" && f != Ignore {
			out[h] = f
		}
	}
	return out
}

// HeaderAliases maps normalized header spellings seen in CRM, enrichment and
// marketing exports to canonical field names.
var HeaderAliases = map[string]string{
	// Email
	"e-mail":        FieldEmail,
	"email_address": FieldEmail,
	"emailaddress":  FieldEmail,
	"work_email":    FieldEmail,
	"mail":          FieldEmail,

	// Names
	"first":       "first_name",
	"firstname":   "first_name",
	"given_name":  "first_name",
	"last":        "last_name",
	"lastname":    "last_name",
	"surname":     "last_name",
	"family_name": "last_name",

	// Company
	"company_name":      "company",
	"account":           "company",
	"account_name":      "company",
	"organization":      "company",
	"organization_name": "company",

	// Title
	"job_title": "title",
	"jobtitle":  "title",
	"position":  "title",

	// Contact
	"phone_number":        "phone",
	"mobile":              "phone",
	"mobile_phone":        "phone",
	"work_phone":          "phone",
	"linkedin":            "linkedin_url",
	"linkedin_profile":    "linkedin_url",
	"person_linkedin_url": "linkedin_url",

	// Location
	"region":         "state",
	"state/province": "state",
	"province":       "state",
	"country/region": "country",

	// Company details
	"# employees":         "employee_count",
	"employees":           "employee_count",
	"number_of_employees": "employee_count",
	"company_size":        "employee_count",

	// Pipeline
	"status":             "lead_status",
	"lead_stage":         "lead_status",
	"lifecycle":          "lifecycle_stage",
	"unsubscribed":       "email_opt_out",
	"opted_out":          "email_opt_out",
	"do_not_email":       "email_opt_out",
	"last_activity":      "last_activity_at",
	"last_activity_date": "last_activity_at",
}

// NormalizeHeader folds a header for matching: Unicode NFKC, trimmed,
// lowercased, runs of whitespace replaced with a single underscore.
func NormalizeHeader(h string) string {
	h = norm.NFKC.String(h)
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Join(strings.FieldsFunc(h, unicode.IsSpace), "_")
}

// SuggestMapping proposes a target for every header. Matching order: the
// normalized header equals a field name or label, then field aliases and
// HeaderAliases, then the best saved template scoring at least
// TemplateMatchThreshold. Each field is used at most once; the first header
// claiming it wins. Unmatched headers map to Ignore.
func SuggestMapping(def TableDefinition, headers []string, templates []MappingTemplate) ColumnMapping {
	mapping := make(ColumnMapping, len(headers))
	used := make(map[string]bool)

	byName := make(map[string]string)
	byAlias := make(map[string]string)
	for _, spec := range def.FieldSpecs {
		byName[NormalizeHeader(spec.Name)] = spec.Name
		byName[NormalizeHeader(spec.DisplayLabel())] = spec.Name
		for _, a := range spec.Aliases {
			byAlias[NormalizeHeader(a)] = spec.Name
		}
	}
	for alias, canonical := range HeaderAliases {
		if spec, ok := def.Field(canonical); ok {
			if _, taken := byAlias[alias]; !taken {
				byAlias[alias] = spec.Name
			}
		}
	}

	claim := func(header, field string) bool {
		if field == "" || used[field] {
			return false
		}
		used[field] = true
		mapping[header] = field
		return true
	}

	for _, h := range headers {
		claim(h, byName[NormalizeHeader(h)])
	}
	for _, h := range headers {
		if _, done := mapping[h]; done {
			continue
		}
		claim(h, byAlias[NormalizeHeader(h)])
	}

	if best, ok := BestTemplate(headers, templates); ok {
		for _, h := range headers {
			if _, done := mapping[h]; done {
				continue
			}
			if field, ok := best.Mapping[h]; ok && field != Ignore {
				if _, exists := def.Field(field); exists {
					claim(h, field)
				}
			}
		}
	}

	for _, h := range headers {
		if _, done := mapping[h]; !done {
			mapping[h] = Ignore
		}
	}
	return mapping
}

// ValidateMapping checks a user-supplied mapping against the uploaded
// headers and the target table. Two headers mapped to the same field is an
// error.
func ValidateMapping(def TableDefinition, headers []string, mapping ColumnMapping) error {
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}

	targets := make(map[string]string, len(mapping))
	for header, field := range mapping {
		if !known[header] {
			return NewValidationError(header, field, "mapping references unknown header")
		}
		if field == "" || field == Ignore {
			continue
		}
		spec, ok := def.Field(field)
		if !ok {
			return NewValidationError(header, field, fmt.Sprintf("table %s has no field %q", def.Info.Key, field))
		}
		if prev, dup := targets[spec.Name]; dup {
			return NewValidationError(header, field,
				fmt.Sprintf("headers %q and %q both map to %s", prev, header, spec.Name))
		}
		targets[spec.Name] = header
	}
	return nil
}

// MappingTemplate is a saved header mapping for a table, reused to suggest
// mappings for files with a similar header set.
type MappingTemplate struct {
	ID        string        `json:"id"`
	Table     string        `json:"table"`
	Name      string        `json:"name"`
	Headers   []string      `json:"headers"`
	Mapping   ColumnMapping `json:"mapping"`
	CreatedAt time.Time     `json:"created_at"`
}

// TemplateStore persists mapping templates.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, t MappingTemplate) error
	ListTemplates(ctx context.Context, table string) ([]MappingTemplate, error)
}

// TemplateMatch is a template with its header overlap score.
type TemplateMatch struct {
	Template   MappingTemplate `json:"template"`
	MatchScore float64         `json:"match_score"`
}

// MatchTemplates scores templates against headers and returns those at or
// above TemplateMatchThreshold, best first.
func MatchTemplates(headers []string, templates []MappingTemplate) []TemplateMatch {
	var matches []TemplateMatch
	for _, t := range templates {
		score := matchTemplateHeaders(headers, t.Headers)
		if score >= TemplateMatchThreshold {
			matches = append(matches, TemplateMatch{Template: t, MatchScore: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchScore > matches[j].MatchScore
	})
	return matches
}

// BestTemplate returns the highest scoring template over the threshold.
func BestTemplate(headers []string, templates []MappingTemplate) (MappingTemplate, bool) {
	matches := MatchTemplates(headers, templates)
	if len(matches) == 0 {
		return MappingTemplate{}, false
	}
	return matches[0].Template, true
}

// matchTemplateHeaders calculates how well uploaded headers match template headers.
func matchTemplateHeaders(headers, templateHeaders []string) float64 {
	if len(templateHeaders) == 0 {
		return 0
	}

	set := make(map[string]bool, len(headers))
	for _, h := range headers {
		set[NormalizeHeader(h)] = true
	}

	matched := 0
	for _, h := range templateHeaders {
		if set[NormalizeHeader(h)] {
			matched++
		}
	}

	return float64(matched) / float64(len(templateHeaders))
}
