package intent

import (
	"regexp"
)

// Family is a coarse content family used for routing.
type Family string

const (
	FamilyTech             Family = "TECH"
	FamilyLegal            Family = "LEGAL"
	FamilyRegulated        Family = "REGULATED"
	FamilyPsychotherapy    Family = "PSYCHOTHERAPY"
	FamilyGeneralPrecision Family = "GENERAL_PRECISION"
	FamilyOpenEnded        Family = "OPEN_ENDED"
)

// classifyMaxChars bounds the regex scan on very long inputs.
const classifyMaxChars = 4000

var (
	techRx  = regexp.MustCompile(`(?i)\b(code|bug|stacktrace|exception|sql|regex|docker|kubernetes|api|typescript|python|compile|error)\b`)
	legalRx = regexp.MustCompile(`(?i)\b(contract|nda|terms|tort|statute|indemnif(y|ication)|warranty|governing law)\b`)
	regRx   = regexp.MustCompile(`(?i)\b(` +
		`pci[\s-]?dss|sox|hipaa|hitech|ferpa|coppa|glba|fisma|fedramp|nist\s*800-53|nist\s*csf|iso[\s/:-]*27\d{2}` +
		`|gdpr|ccpa|cpra|mifid|basel\s*iii|aml|kyc|psd2|eidas|cfpb|ofac|itar|ear|faa|fda|sec\b` +
		`)\b`)
	psyRx       = regexp.MustCompile(`(?i)\b(therapy|therapist|counsel(or|ing)|anxiety|panic|depress(ed|ion)?|grief|trauma|cope|mental health|feelings)\b`)
	precisionRx = regexp.MustCompile(`(?i)\b(prove|derive|exact|step[- ]?by[- ]?step|check|verify|confidence)\b`)
)

// Classify maps text to its content family. Precedence is fixed:
// PSYCHOTHERAPY > REGULATED > LEGAL > TECH > GENERAL_PRECISION > OPEN_ENDED.
func Classify(text string) Family {
	t := text
	if len(t) > classifyMaxChars {
		t = t[:classifyMaxChars]
	}

	switch {
	case psyRx.MatchString(t):
		return FamilyPsychotherapy
	case regRx.MatchString(t):
		return FamilyRegulated
	case legalRx.MatchString(t):
		return FamilyLegal
	case techRx.MatchString(t):
		return FamilyTech
	case precisionRx.MatchString(t):
		return FamilyGeneralPrecision
	default:
		return FamilyOpenEnded
	}
}

// familyIntents maps families to the flat intent labels of /classify.
var familyIntents = map[Family]string{
	FamilyTech:             "technical",
	FamilyLegal:            "legal",
	FamilyRegulated:        "compliance",
	FamilyPsychotherapy:    "emotional",
	FamilyGeneralPrecision: "analytical",
	FamilyOpenEnded:        "general",
}

// Intent returns the flat intent label for a family.
func (f Family) Intent() string {
	if intent, ok := familyIntents[f]; ok {
		return intent
	}
	return "general"
}

// templateFor maps a family to its emotion template.
func templateFor(f Family) string {
	switch f {
	case FamilyPsychotherapy:
		return "empathy_therapist"
	case FamilyGeneralPrecision:
		return "self_monitor"
	case FamilyOpenEnded:
		return "stakes"
	default: // TECH, LEGAL, REGULATED
		return "none"
	}
}

// providerFor maps a family to the serving provider. Regulated content stays
// local unless the operator explicitly opted into external processing.
func providerFor(f Family, allowExternalForRegulated bool) string {
	switch f {
	case FamilyTech, FamilyLegal, FamilyPsychotherapy:
		return "openrouter"
	case FamilyRegulated:
		if allowExternalForRegulated {
			return "openrouter"
		}
		return "local"
	default: // GENERAL_PRECISION, OPEN_ENDED
		return "local"
	}
}
