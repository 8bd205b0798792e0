// Package policy holds content rules applied before dialog text is stored.
package policy

import "regexp"

type redactionRule struct {
	kind        string
	pattern     *regexp.Regexp
	replacement string
}

// Cards run before phones so long digit runs are not classified as phone numbers.
var redactionRules = []redactionRule{
	{"email", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{"card", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{"phone", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// Redaction is the outcome of one RedactPII call.
type Redaction struct {
	Text  string
	Kinds []string
}

func (r Redaction) Changed() bool { return len(r.Kinds) > 0 }

// RedactPII masks email addresses, card numbers and phone numbers in dialog
// text and reports which kinds were found.
func RedactPII(input string) Redaction {
	out := Redaction{Text: input}
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out.Text, rule.replacement)
		if next != out.Text {
			out.Kinds = append(out.Kinds, rule.kind)
			out.Text = next
		}
	}
	return out
}
