package memory

import (
	"regexp"
	"strings"
)

// piiClass pairs a detection regex with its redaction label.
type piiClass struct {
	name string
	re   *regexp.Regexp
}

// Order matters: SSN and credit card run before phone, whose regex also
// matches digit groups inside the longer formats.
var piiClasses = []piiClass{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
}

// DetectPII returns the names of all PII classes present in text.
func DetectPII(text string) []string {
	var detected []string
	for _, c := range piiClasses {
		if c.re.MatchString(text) {
			detected = append(detected, c.name)
		}
	}
	return detected
}

// RedactPII replaces every PII occurrence with [REDACTED_<CLASS>].
func RedactPII(text string) string {
	for _, c := range piiClasses {
		text = c.re.ReplaceAllString(text, "[REDACTED_"+strings.ToUpper(c.name)+"]")
	}
	return text
}
