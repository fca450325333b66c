package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// QueryVetter analyzes scheduled query text for statements that cannot
// work against the read-only telemetry database, and result rows for
// content that should not reach the downstream log pipeline.
type QueryVetter struct {
	patterns []VetPattern
}

// VetPattern defines a query-text pattern to flag.
type VetPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for vetting findings.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Finding represents one flagged pattern.
type Finding struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// NewQueryVetter creates a vetter with the default patterns.
func NewQueryVetter() *QueryVetter {
	return &QueryVetter{
		patterns: defaultVetPatterns(),
	}
}

// VetQuery checks scheduled query text before its first execution.
// Findings are advisory; the executor's read-only connection is the
// actual enforcement.
func (v *QueryVetter) VetQuery(name, sql string) []Finding {
	var findings []Finding

	for _, p := range v.patterns {
		if p.Regex.MatchString(sql) {
			findings = append(findings, Finding{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
			})

			log.Warn().
				Str("query", name).
				Str("pattern", p.Name).
				Str("severity", p.Severity.String()).
				Msg("scheduled query flagged")
		}
	}

	// LIMIT without ORDER BY leaves row selection to the engine, so
	// the same data can diff differently run to run.
	if limitRe.MatchString(sql) && !orderByRe.MatchString(sql) {
		findings = append(findings, Finding{
			Pattern:  "unordered_limit",
			Severity: SeverityLow.String(),
			Detail:   "LIMIT without ORDER BY makes row selection unstable across runs",
		})
		log.Warn().
			Str("query", name).
			Str("pattern", "unordered_limit").
			Str("severity", SeverityLow.String()).
			Msg("scheduled query flagged")
	}

	return findings
}

var (
	limitRe   = regexp.MustCompile(`(?i)\blimit\b`)
	orderByRe = regexp.MustCompile(`(?i)\border\s+by\b`)
)

// VetOutput checks rendered result rows for content that should be
// kept out of shipped records.
func (v *QueryVetter) VetOutput(output string) []Finding {
	var findings []Finding

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"shadow_entry", "root:$", SeverityCritical},
		{"private_key", "PRIVATE KEY-----", SeverityCritical},
		{"aws_secret", "aws_secret_access_key", SeverityHigh},
		{"bearer_token", "Authorization: Bearer", SeverityMedium},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			findings = append(findings, Finding{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "sensitive content in result rows: " + p.name,
			})
		}
	}

	return findings
}

func defaultVetPatterns() []VetPattern {
	return []VetPattern{
		{
			Name:        "write_statement",
			Description: "Statement writes to the telemetry database",
			Regex:       regexp.MustCompile(`(?i)^\s*(insert|update|delete|replace)\b`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "schema_change",
			Description: "Statement alters the telemetry schema",
			Regex:       regexp.MustCompile(`(?i)^\s*(create|drop|alter)\b`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "attach_database",
			Description: "ATTACH reaches outside the telemetry database",
			Regex:       regexp.MustCompile(`(?i)\battach\s+database\b`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "pragma_statement",
			Description: "PRAGMA can change connection state for later queries",
			Regex:       regexp.MustCompile(`(?i)^\s*pragma\b`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "multiple_statements",
			Description: "Compound statements execute only their first part",
			Regex:       regexp.MustCompile(`;\s*\S`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "random_value",
			Description: "Nondeterministic values make every run a full diff",
			Regex:       regexp.MustCompile(`(?i)\b(random|randomblob)\s*\(`),
			Severity:    SeverityMedium,
		},
	}
}
