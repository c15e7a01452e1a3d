package telemetry

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// piiPattern order matters: the first class that matches a string value wins.
type piiPattern struct {
	name string
	rx   *regexp.Regexp
}

var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Z|a-z]{2,}\b`)},
	{"phone", regexp.MustCompile(`(?i)\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"ssn", regexp.MustCompile(`(?i)\b\d{3}[-]?\d{2}[-]?\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`(?i)\b\d{4}[-]?\d{4}[-]?\d{4}[-]?\d{4}\b`)},
	{"api_key", regexp.MustCompile(`(?i)\b[A-Za-z0-9]{32,}\b`)},
	{"ip_address", regexp.MustCompile(`(?i)\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
	{"user_id", regexp.MustCompile(`(?i)\buser[_-]?[a-z0-9]+\b`)},
	{"session_id", regexp.MustCompile(`(?i)\bsess[a-z0-9]+\b`)},
}

type redaction struct {
	fields map[string]struct{}
}

// RedactPayload deep-copies the payload and replaces every string value that
// matches a PII class with [REDACTED_<CLASS>]. The whole value is replaced,
// never just the matching span. Returns the redacted copy and the sorted set
// of field names that were touched.
func RedactPayload(payload map[string]interface{}) (map[string]interface{}, []string, error) {
	if payload == nil {
		return map[string]interface{}{}, nil, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("copy payload: %w", err)
	}
	var clone map[string]interface{}
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, nil, fmt.Errorf("copy payload: %w", err)
	}

	r := &redaction{fields: make(map[string]struct{})}
	r.walk(clone, "")

	fields := make([]string, 0, len(r.fields))
	for f := range r.fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return clone, fields, nil
}

// walk rewrites PII strings in place. List elements inherit the field name of
// the list itself.
func (r *redaction) walk(value interface{}, field string) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, item := range v {
			v[k] = r.walk(item, k)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = r.walk(item, field)
		}
		return v
	case string:
		for _, p := range piiPatterns {
			if p.rx.MatchString(v) {
				if field != "" {
					r.fields[field] = struct{}{}
				}
				return "[REDACTED_" + strings.ToUpper(p.name) + "]"
			}
		}
		return v
	default:
		return value
	}
}
