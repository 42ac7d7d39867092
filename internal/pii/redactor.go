package pii

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type pattern struct {
	kind string
	re   *regexp.Regexp
}

// Patterns run in order; later patterns never rewrite earlier placeholders.
var patterns = []pattern{
	{"POLICY_NUMBER", regexp.MustCompile(`(?i)\b(?:POL|INS|PLY)[-/]?\d{6,12}\b`)},
	{"CLAIM_NUMBER", regexp.MustCompile(`(?i)\b(?:CLM|CLAIM)[-/]?\d{6,12}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"PHONE", regexp.MustCompile(`(?:\+1[-.\s]?)?\(?\b\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"DATE_OF_BIRTH", regexp.MustCompile(`(?i)\b(?:DOB|Date of Birth)[:\s]*\d{1,2}[/\-]\d{1,2}[/\-]\d{2,4}\b`)},
}

// placeholderLookback is how far before a match we look for an open
// placeholder of the same kind.
const placeholderLookback = 20

// Result is a redacted text and the placeholder mapping needed to undo it.
type Result struct {
	Text    string
	Mapping map[string]string
}

// Types returns the distinct PII kinds found, sorted.
func (r Result) Types() []string {
	seen := make(map[string]struct{})
	for ph := range r.Mapping {
		kind := strings.TrimPrefix(ph, "[")
		if i := strings.LastIndexByte(kind, '_'); i > 0 {
			kind = kind[:i]
		}
		seen[kind] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Redactor struct {
	log *zap.Logger
}

func NewRedactor(logger *zap.Logger) *Redactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redactor{log: logger}
}

// Redact replaces detected PII in message, and in attachment when present,
// with [TYPE_n] placeholders.
func (r *Redactor) Redact(message, attachment string) Result {
	text := message
	if strings.TrimSpace(attachment) != "" {
		text += "\n\n[Attachment Content]\n" + attachment
	}

	mapping := make(map[string]string)
	for _, p := range patterns {
		text = redactPattern(text, p, mapping)
	}

	res := Result{Text: text, Mapping: mapping}
	if len(mapping) > 0 {
		r.log.Info("pii redacted", zap.Int("entities", len(mapping)), zap.Strings("types", res.Types()))
	}
	return res
}

func redactPattern(text string, p pattern, mapping map[string]string) string {
	matches := p.re.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		lookFrom := start - placeholderLookback
		if lookFrom < 0 {
			lookFrom = 0
		}
		if strings.Contains(text[lookFrom:start], "["+p.kind) {
			continue
		}
		placeholder := "[" + p.kind + "_" + strconv.Itoa(len(mapping)) + "]"
		mapping[placeholder] = text[start:end]
		b.WriteString(text[last:start])
		b.WriteString(placeholder)
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}
